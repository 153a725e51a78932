package wire

import (
	"bytes"
	"testing"
)

// FuzzFrameReader asserts that feeding the same bytes through one Feed call
// or split across many arbitrary chunks produces the same sequence of
// frames, and that FrameReader never panics on adversarial input.
func FuzzFrameReader(f *testing.F) {
	delim := testDelimiter()

	f.Add([]byte("hello world"), uint8(3))
	f.Add(append(append([]byte("a"), delim...), []byte("b")...), uint8(1))
	f.Add(delim[:8], uint8(2))
	f.Add([]byte{}, uint8(0))

	f.Fuzz(func(t *testing.T, data []byte, chunkSeed uint8) {
		whole := NewFrameReader(delim)
		wantFrames := whole.Feed(data)
		wantPending := whole.Pending()

		chunkSize := int(chunkSeed)%7 + 1
		chunked := NewFrameReader(delim)
		var gotFrames [][]byte
		for i := 0; i < len(data); i += chunkSize {
			end := i + chunkSize
			if end > len(data) {
				end = len(data)
			}
			gotFrames = append(gotFrames, chunked.Feed(data[i:end])...)
		}
		gotPending := chunked.Pending()

		if len(gotFrames) != len(wantFrames) {
			t.Fatalf("chunked produced %d frames, whole-buffer produced %d", len(gotFrames), len(wantFrames))
		}
		for i := range wantFrames {
			if !bytes.Equal(gotFrames[i], wantFrames[i]) {
				t.Fatalf("frame %d mismatch: chunked=%q whole=%q", i, gotFrames[i], wantFrames[i])
			}
		}
		if !bytes.Equal(gotPending, wantPending) {
			t.Fatalf("pending mismatch: chunked=%q whole=%q", gotPending, wantPending)
		}
	})
}
