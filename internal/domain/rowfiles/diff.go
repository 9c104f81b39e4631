package rowfiles

import "sort"

// Diff computes what the server must send and what it still expects to
// receive so that client matches server. Content identity (length, then hash)
// decides whether a file changed; timestamps are ignored.
func Diff(server, client *Manifest) DiffResult {
	clientFiles := client.byPath()
	serverFiles := server.byPath()

	result := DiffResult{
		ToSend:    []FileEntry{},
		ToReceive: []string{},
	}

	for _, s := range server.Files {
		c, ok := clientFiles[s.Path]
		if !ok || !s.SameContent(c) {
			result.ToSend = append(result.ToSend, s)
		}
	}
	for _, c := range client.Files {
		if _, ok := serverFiles[c.Path]; !ok {
			result.ToReceive = append(result.ToReceive, c.Path)
		}
	}

	sortEntries(result.ToSend)
	sort.Strings(result.ToReceive)
	return result
}
