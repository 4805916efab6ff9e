// Package control implements the control plane spec.md §4.6 and §4.10
// describe: HTTP hook dispatch (on_connect/on_publish/on_play/on_dvr/
// on_hls/on_stop/on_close/on_forward_backend/discover_co_workers,
// grounded on SRS's ISrsHttpHooks), the combined credential+hook
// Authorize callback wired into every connection front-end, the
// GB28181 publish handoff, forward/edge source decorators, and the
// thin read-only HTTP API.
package control
