package malloc

import "errors"

// errSeedFailed is returned when a freshly mapped heap cannot even seed its
// first chunk, meaning Config.Chunk plus the 16 bytes of prologue and
// epilogue words does not fit in Config.ArenaMax.
var errSeedFailed = errors.New("malloc: initial chunk exceeds arena capacity")
