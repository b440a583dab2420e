package bandwidth

import "io"

// chunkSize is the fixed zero-filled chunk size streamed to the
// downloading agent, keeping steady-state memory O(chunk) regardless of
// the configured transfer size.
const chunkSize = 64 * 1024

// StreamZeros writes exactly totalBytes of zero-filled data to w in
// chunkSize chunks.
func StreamZeros(w io.Writer, totalBytes int64) error {
	chunk := make([]byte, chunkSize)
	var written int64
	for written < totalBytes {
		n := int64(len(chunk))
		if remaining := totalBytes - written; remaining < n {
			n = remaining
		}
		wrote, err := w.Write(chunk[:n])
		if err != nil {
			return err
		}
		written += int64(wrote)
	}
	return nil
}
