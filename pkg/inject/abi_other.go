//go:build linux && !amd64

package inject

// TODO: arm64 needs "svc #0" (0xd4000001, 4 bytes), x8 for the call
// number and no red zone.
var hostABI *abi
