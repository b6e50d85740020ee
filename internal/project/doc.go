// Package project keeps an open project directory in sync with its
// in-memory model.
//
// A Project owns four pieces:
//
//   - a tree store holding the latest scan of the project directory
//   - the manifest manager reconciling per-resource configuration
//   - a recursive file watcher
//   - one resource runtime per directory holding a declaration file
//
// # Change handling
//
// Structural events (additions and removals) are debounced into a single
// rescan. Each rescan commits a new tree, pushes the difference to the
// Client, reconciles the manifest and creates or disposes runtimes for
// resource directories that appeared or vanished.
//
// Additions and content changes are also forwarded immediately to the
// runtime owning the path, which decides whether the change restarts or
// reloads its resource.
//
// # Quick Start
//
//	proj, err := project.Open(ctx, "/path/to/project",
//	    project.WithClient(client),
//	    project.WithServerControl(server))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer proj.Close(ctx)
//
//	if err := proj.BuildResource(ctx, "my-resource"); err != nil {
//	    var be *resource.BuildCommandError
//	    if errors.As(err, &be) {
//	        lines, _ := proj.Outputs().Lines(be.OutputChannelID)
//	        ...
//	    }
//	}
package project
