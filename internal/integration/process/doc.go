// Package process spawns and supervises the build and watch commands that
// assets declare.
//
// A Supervisor implements Spawner. Each spawned command gets an output
// channel from an output.Registry, a unique id, and a Handle used to wait
// for or stop it:
//
//	reg, _ := output.NewRegistry(64)
//	sup := process.NewSupervisor(process.WithOutputRegistry(reg))
//	defer sup.Shutdown(context.Background())
//
//	h, err := sup.Spawn(ctx, process.Spec{
//	    Name:    "chat:build",
//	    Command: "yarn",
//	    Args:    []string{"build"},
//	    Dir:     "/projects/demo/chat",
//	}, process.Hooks{})
//	if err != nil {
//	    return err
//	}
//	code, _ := h.Wait(ctx)
//	lines, _ := reg.Lines(h.OutputChannelID())
//
// Stop sends SIGTERM, waits for the stop timeout, then sends SIGKILL.
// Hooks.OnError fires only for failures not requested through Stop.
package process
