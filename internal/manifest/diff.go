package manifest

import "sort"

// DiffSet lists the paths the server has to send.
type DiffSet []string

// Diff computes the paths to send for a client holding client when the
// server holds server. Client paths that are missing on the server or carry a
// different fingerprint come first, followed by paths only the server has.
// Each group is sorted so the result is deterministic. Paths the client has
// and the server lacks are never signalled for deletion; the archiver simply
// finds nothing to send for them.
func Diff(client, server Manifest) DiffSet {
	var stale, missing []string

	for path, digest := range client {
		if theirs, ok := server[path]; !ok || theirs != digest {
			stale = append(stale, path)
		}
	}

	for path := range server {
		if _, ok := client[path]; !ok {
			missing = append(missing, path)
		}
	}

	sort.Strings(stale)
	sort.Strings(missing)

	diff := make(DiffSet, 0, len(stale)+len(missing))
	diff = append(diff, stale...)
	return append(diff, missing...)
}

// Empty reports whether nothing needs to be sent.
func (d DiffSet) Empty() bool {
	return len(d) == 0
}
