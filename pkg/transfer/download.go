package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/marmos91/shuttle/internal/telemetry"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/store/blob"
)

// ErrRangeNotSatisfiable rejects a Range header that is malformed or
// addresses bytes outside the file.
var ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

// Download is a prepared response body: the byte window to serve and a
// lazy reader assembling it from the per-chunk objects. The caller must
// close Body.
type Download struct {
	Upload *models.Upload

	// Start and End are the inclusive byte window served. Length is
	// End-Start+1, or 0 for an empty file.
	Start  int64
	End    int64
	Length int64

	// Ranged is true when a Range header selected the window, so the
	// handler answers 206 with a Content-Range.
	Ranged bool

	Body io.ReadCloser
}

// Download serves the assembled file, or the window a Range header
// selects. Only COMPLETED uploads are downloadable.
//
// The returned reader opens one chunk object at a time: whole chunks
// through Get, the partial chunks at the window edges through GetRange.
// Nothing is buffered beyond the backend reader itself.
func (s *Service) Download(ctx context.Context, principal *auth.Principal, uploadID, rangeHeader string) (d *Download, err error) {
	// The span covers preparation only; the body streams after it ends.
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanDownload, uploadID)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		} else {
			telemetry.SetAttributes(ctx, telemetry.Bytes(d.Length))
			if d.Ranged {
				telemetry.SetAttributes(ctx, telemetry.RangeStart(d.Start), telemetry.RangeEnd(d.End))
			}
		}
		span.End()
	}()

	upload, err := s.getOwned(ctx, principal, uploadID)
	if err != nil {
		return nil, err
	}
	if upload.Status != models.StatusCompleted {
		return nil, fmt.Errorf("upload is %s: %w", upload.Status, models.ErrUploadNotDone)
	}

	rows, err := s.meta.ListChunks(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if len(rows) != upload.TotalChunks {
		return nil, fmt.Errorf("expected %d chunk rows, found %d: %w",
			upload.TotalChunks, len(rows), ErrInconsistentUpload)
	}

	d = &Download{
		Upload: upload,
		Start:  0,
		End:    upload.FileSize - 1,
		Length: upload.FileSize,
	}
	if rangeHeader != "" {
		start, end, err := parseRange(rangeHeader, upload.FileSize)
		if err != nil {
			return nil, err
		}
		d.Start, d.End = start, end
		d.Length = end - start + 1
		d.Ranged = true
	}

	segs, err := planSegments(upload, rows, d.Start, d.End, d.Length)
	if err != nil {
		return nil, err
	}
	d.Body = &chunkStream{ctx: ctx, blobs: s.blobs, segs: segs}

	s.metrics.RecordDownload(d.Length)
	s.auditDownload(ctx, principal, uploadID, d.Ranged)
	return d, nil
}

// parseRange interprets a single-range bytes= header against a file of
// the given size. Supported forms are "bytes=a-b", "bytes=a-", and the
// suffix form "bytes=-n" meaning the final n bytes. Multi-range headers
// and anything out of bounds are refused.
func parseRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit %q: %w", header, ErrRangeNotSatisfiable)
	}

	lo, hi, ok := strings.Cut(spec, "-")
	if !ok || strings.Contains(hi, ",") {
		return 0, 0, fmt.Errorf("malformed range %q: %w", header, ErrRangeNotSatisfiable)
	}

	if lo == "" {
		// Suffix form: the final n bytes.
		n, perr := strconv.ParseInt(hi, 10, 64)
		if perr != nil || n <= 0 || n > size {
			return 0, 0, fmt.Errorf("unsatisfiable suffix range %q: %w", header, ErrRangeNotSatisfiable)
		}
		return size - n, size - 1, nil
	}

	start, perr := strconv.ParseInt(lo, 10, 64)
	if perr != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start %q: %w", header, ErrRangeNotSatisfiable)
	}

	if hi == "" {
		end = size - 1
	} else {
		end, perr = strconv.ParseInt(hi, 10, 64)
		if perr != nil {
			return 0, 0, fmt.Errorf("malformed range end %q: %w", header, ErrRangeNotSatisfiable)
		}
	}

	if end < start || end >= size {
		return 0, 0, fmt.Errorf("range %d-%d outside file of %d bytes: %w",
			start, end, size, ErrRangeNotSatisfiable)
	}
	return start, end, nil
}

// segment is one contiguous read within a single chunk object.
type segment struct {
	key    string
	offset int64
	length int64

	// whole is true when the segment covers the entire object, so it
	// can be read with a plain Get instead of a range read.
	whole bool
}

// planSegments translates the byte window [start, end] into per-chunk
// reads. The first and last chunks may be partial; everything between
// is read whole.
func planSegments(upload *models.Upload, rows []models.Chunk, start, end, length int64) ([]segment, error) {
	if length == 0 {
		return nil, nil
	}

	first := int(start / upload.ChunkSize)
	last := int(end / upload.ChunkSize)

	segs := make([]segment, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		row := &rows[idx]
		if row.ChunkIndex != idx || row.State != models.ChunkUploaded {
			return nil, fmt.Errorf("chunk row %d is %s at position %d: %w",
				row.ChunkIndex, row.State, idx, ErrInconsistentUpload)
		}

		chunkStart := int64(idx) * upload.ChunkSize
		segOff := int64(0)
		if idx == first {
			segOff = start - chunkStart
		}
		segEnd := row.SizeBytes - 1
		if idx == last {
			segEnd = end - chunkStart
		}
		if segEnd >= row.SizeBytes {
			return nil, fmt.Errorf("chunk %d holds %d bytes, window needs byte %d: %w",
				idx, row.SizeBytes, segEnd, ErrInconsistentUpload)
		}

		segLen := segEnd - segOff + 1
		segs = append(segs, segment{
			key:    row.ObjectKey(),
			offset: segOff,
			length: segLen,
			whole:  segOff == 0 && segLen == row.SizeBytes,
		})
	}
	return segs, nil
}

// chunkStream reads the planned segments in order, opening each chunk
// object only when the previous one is drained.
type chunkStream struct {
	ctx   context.Context
	blobs blob.Store
	segs  []segment

	cur io.ReadCloser
	pos int
}

func (c *chunkStream) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			if c.pos >= len(c.segs) {
				return 0, io.EOF
			}
			rc, err := c.open(c.segs[c.pos])
			if err != nil {
				return 0, err
			}
			c.cur = rc
		}

		n, err := c.cur.Read(p)
		if errors.Is(err, io.EOF) {
			c.cur.Close()
			c.cur = nil
			c.pos++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *chunkStream) open(seg segment) (io.ReadCloser, error) {
	if seg.whole {
		return c.blobs.Get(c.ctx, seg.key)
	}
	return c.blobs.GetRange(c.ctx, seg.key, seg.offset, seg.length)
}

func (c *chunkStream) Close() error {
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
