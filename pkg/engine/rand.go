package engine

import "math/rand/v2"

// randSource backs SSRC/Token generation. These identifiers only need
// to be unlikely to collide between two peers on a LAN, not
// cryptographically unpredictable, so math/rand/v2's default source
// is used rather than crypto/rand (see DESIGN.md).
var randSource = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
