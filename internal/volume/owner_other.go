//go:build !unix

package volume

// processAlive cannot probe other processes here; the in-use check still
// protects live sessions.
func processAlive(int) bool {
	return false
}
