//go:build !real_waku

package contentstore

// NewGoWakuNetwork is only available when the daemon is built with the
// real_waku tag. The default build returns nil and callers fall back to
// the in-memory network.
func NewGoWakuNetwork(GoWakuConfig) Network {
	return nil
}
