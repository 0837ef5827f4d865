// Command concerto is the Concerto runtime: it loads a compiled
// .conc-ir module and executes it against the project's manifest-bound
// connections, subprocess agents, and MCP servers.
//
// Usage:
//
//	concerto run <input.conc-ir> [--debug] [--quiet] [--inspect]
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/concerto-lang/concerto/internal/agentproc"
	"github.com/concerto-lang/concerto/internal/config"
	"github.com/concerto-lang/concerto/internal/debugserver"
	"github.com/concerto-lang/concerto/internal/hostproc"
	"github.com/concerto-lang/concerto/internal/ir"
	"github.com/concerto-lang/concerto/internal/llm"
	"github.com/concerto-lang/concerto/internal/logger"
	"github.com/concerto-lang/concerto/internal/manifest"
	"github.com/concerto-lang/concerto/internal/mcpclient"
	"github.com/concerto-lang/concerto/internal/runtime"
	"github.com/concerto-lang/concerto/internal/runtime/semrecall"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || args[0] != "run" {
		fmt.Fprintln(os.Stderr, "usage: concerto run <input.conc-ir> [--debug] [--quiet] [--inspect]")
		os.Exit(1)
	}
	os.Exit(runCommand(args[1:]))
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet("concerto run", flag.ExitOnError)
	debug := fs.Bool("debug", false, "trace execution and name the failing function on error")
	quiet := fs.Bool("quiet", false, "suppress emit output")
	inspect := fs.Bool("inspect", false, "serve VM state over HTTP while running")

	input := ""
	rest := make([]string, 0, len(args))
	for _, a := range args {
		if input == "" && !strings.HasPrefix(a, "-") {
			input = a
			continue
		}
		rest = append(rest, a)
	}
	fs.Parse(rest)

	if input == "" {
		fmt.Fprintln(os.Stderr, "usage: concerto run <input.conc-ir> [--debug] [--quiet] [--inspect]")
		return 1
	}

	cfg, err := config.Load(filepath.Join(config.DefaultDataDir(), "config.toml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Setup(cfg)
	defer logger.Stop()

	mod, err := ir.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	loaded, err := runtime.Load(mod)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	vm := runtime.NewVM(loaded)
	vm.Debug = *debug

	if !*quiet {
		vm.SetEmitHandler(func(channel string, payload runtime.Value) runtime.Value {
			fmt.Printf("%s: %s\n", channel, runtime.Display(payload))
			return runtime.Nil()
		})
	}

	agents := agentproc.NewRegistry()
	hosts := hostproc.NewRegistry()
	var mcps *mcpclient.Registry
	defer func() {
		agents.Shutdown()
		hosts.Shutdown()
		if mcps != nil {
			mcps.Shutdown()
		}
	}()

	if err := wireManifest(vm, loaded, agents, hosts, &mcps); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if *inspect {
		debugserver.NewServer(cfg, vm).Start()
	}

	if _, err := vm.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
		if *debug && vm.CurrentFunction() != "" {
			fmt.Fprintf(os.Stderr, "  in function: %s\n", vm.CurrentFunction())
		}
		return 1
	}
	return 0
}

// wireManifest connects the VM's registries from Concerto.toml and the
// module's own declarations. A missing manifest is fatal only when the
// module actually needs external collaborators.
func wireManifest(vm *runtime.VM, loaded *runtime.LoadedModule, agents *agentproc.Registry, hosts *hostproc.Registry, mcps **mcpclient.Registry) error {
	m, err := manifest.FindAndLoad(loaded.Raw.SourceFile)
	if err != nil {
		if moduleNeedsManifest(loaded) {
			return err
		}
		logger.GetLogger().Debug().Err(err).Msg("running without a manifest")
		m = nil
	}

	// Hosts come from the module itself: command and args are compiled in.
	for name, h := range loaded.Hosts {
		client := hosts.Register(name, h.Command, h.Args, h.Env)
		vm.RegisterAgentRunner(name, client)
	}

	if m == nil {
		return nil
	}

	for name, conn := range m.Connections {
		provider, retry, err := llm.New(conn)
		if err != nil {
			return fmt.Errorf("connection %q: %w", name, err)
		}
		vm.Connections.Register(name, provider, retry)
	}

	// Subprocess-backed agents: the manifest's [agents.<name>] command
	// overrides the LLM connection for that agent name.
	for name, ac := range m.Agents {
		params := map[string]any{}
		if decl, ok := loaded.Agents[name]; ok {
			for k, v := range decl.Config {
				params[k] = v
			}
		}
		agents.Register(agentproc.Config{
			Name:    name,
			Command: ac.Command,
			Args:    ac.Args,
			Env:     ac.Env,
			Params:  params,
		})
		client, err := agents.Get(name)
		if err != nil {
			return err
		}
		vm.RegisterAgentRunner(name, client)
	}

	if len(m.MCP) > 0 {
		registry := mcpclient.NewRegistry(m)
		if err := registry.WireTools(vm.Tools); err != nil {
			return err
		}
		*mcps = registry
	}

	if m.Memory.Recall {
		if m.Memory.RecallDataDir != "" {
			store, err := semrecall.NewPersistent(m.Memory.RecallDataDir)
			if err != nil {
				return err
			}
			vm.SetRecallProvider(store)
		} else {
			vm.SetRecallProvider(semrecall.New())
		}
	}

	return nil
}

// moduleNeedsManifest reports whether the module references external
// collaborators that only the manifest can bind.
func moduleNeedsManifest(loaded *runtime.LoadedModule) bool {
	for _, agent := range loaded.Agents {
		if agent.Connection != "" && agent.Connection != "mock" {
			return true
		}
	}
	return false
}
