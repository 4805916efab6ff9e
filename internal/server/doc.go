// Package server wires every protocol front-end, the control plane
// and the configuration/reload machinery into one process, grounded
// on bluenviron-mediamtx/internal/core/core.go's Core orchestrator:
// one struct field per subsystem, an event loop reacting to a changed
// config file or an OS interrupt, and idempotent per-subsystem
// construction/teardown.
//
// Unlike Core, reload here does not diff the new configuration
// field-by-field to decide which individual listener needs
// restarting. This core's subsystems are independent listeners with
// no pathManager-style shared indirection layer between them and the
// Registry, so the fine-grained diff buys little: Reload tears every
// subsystem down and rebuilds it from the new conf.Conf, same as a
// restart, just without dropping the process. See DESIGN.md for the
// rest of this decision's rationale.
package server
