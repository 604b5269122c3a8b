package mega

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// chunkSink receives decrypted chunks, possibly out of order.
type chunkSink interface {
	writeChunk(c Chunk, data []byte) error
}

// writerAtSink writes each chunk at its offset.
type writerAtSink struct {
	w io.WriterAt
}

func (s writerAtSink) writeChunk(c Chunk, data []byte) error {
	_, err := s.w.WriteAt(data, c.Offset)
	return err
}

// orderedSink holds back chunks that arrive early so that w sees the file in order.
type orderedSink struct {
	w       io.Writer
	next    int
	pending map[int][]byte
	lock    sync.Mutex
}

func newOrderedSink(w io.Writer) *orderedSink {
	return &orderedSink{w: w, pending: make(map[int][]byte)}
}

func (s *orderedSink) writeChunk(c Chunk, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.pending[c.Index] = data

	for {
		buf, ok := s.pending[s.next]
		if !ok {
			return nil
		}

		delete(s.pending, s.next)

		if _, err := s.w.Write(buf); err != nil {
			return err
		}

		s.next++
	}
}

// sinkFor picks positional writes when the writer supports them.
func sinkFor(w io.Writer) chunkSink {
	if wa, ok := w.(io.WriterAt); ok {
		return writerAtSink{w: wa}
	}

	return newOrderedSink(w)
}

// runChunks runs fn for every chunk not yet done, on workers goroutines pulling from a shared
// queue. The first failure cancels the remaining chunks.
func (m *Manager) runChunks(ctx context.Context, chunks []Chunk, workers int, done func(int) bool, fn func(context.Context, Chunk) error) error {
	if workers < 1 {
		workers = 1
	}

	tasks := make(chan Chunk)

	group, ctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		group.Go(m.guard(func() error {
			for c := range tasks {
				if err := fn(ctx, c); err != nil {
					return err
				}
			}

			return nil
		}))
	}

	group.Go(func() error {
		defer close(tasks)

		for _, c := range chunks {
			if done(c.Index) {
				continue
			}

			select {
			case tasks <- c:

			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	return group.Wait()
}

// guard turns a panic in fn into an error after handing it to the panic handler.
func (m *Manager) guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				m.panicHandler.HandlePanic(r)
				err = fmt.Errorf("panic in transfer worker: %v", r)
			}
		}()

		return fn()
	}
}

// downloadJob is one file download.
type downloadJob struct {
	handle  string
	req     DownloadURLReq
	key     FileKey
	sink    chunkSink
	workers int

	// state, if set, persists completed chunks and seeds the MAC accumulator.
	state *resumeState
}

// download fetches, decrypts and authenticates a file. Chunks complete in any order; the
// download only succeeds once every chunk is in and the condensed MAC matches the file key.
func (m *Manager) download(ctx context.Context, ch channel, job downloadJob) (err error) {
	defer func() { m.metrics.done(string(Download), err) }()

	var dl DownloadURLRes

	if err := m.call(ctx, ch, job.req, &dl); err != nil {
		return fmt.Errorf("failed to get download URL for %s: %w", job.handle, err)
	}

	cc, err := newChunkCipher(job.key)
	if err != nil {
		return err
	}

	chunks := Chunks(dl.Size)
	macs := newMACAccumulator(len(chunks))

	if job.state != nil {
		if err := job.state.check(dl.Size, keyFingerprint(job.key[:])); err != nil {
			return err
		}

		if err := job.state.seed(macs, len(chunks)); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"pkg":    "go-mega",
		"handle": job.handle,
		"size":   units.HumanSize(float64(dl.Size)),
		"chunks": len(chunks),
	}).Debug("Starting download")

	if err := m.runChunks(ctx, chunks, job.workers, macs.done, func(ctx context.Context, c Chunk) error {
		var data []byte

		attempts, err := retry(ctx, m.chunkRetries, defaultBackoff, func() (err error) {
			data, err = m.getChunk(ctx, dl.URL, c)
			return err
		})
		if err != nil {
			return &TransferError{Handle: job.handle, Chunk: c.Index, Offset: c.Offset, Attempts: attempts, Err: err}
		}

		cc.xor(c.Offset, data)

		mac := cc.mac(data)

		if err := job.sink.writeChunk(c, data); err != nil {
			return &IOError{Op: "write", Err: err}
		}

		macs.set(c.Index, mac)

		m.metrics.chunk(string(Download), c.Size, attempts)

		if job.state != nil {
			return job.state.markDone(c.Index, mac)
		}

		return nil
	}); err != nil {
		return err
	}

	meta, err := macs.metaMAC(cc.block)
	if err != nil {
		return err
	}

	if !bytes.Equal(meta, job.key.MetaMAC()) {
		return &IntegrityError{Handle: job.handle, Expected: job.key.MetaMAC(), Actual: meta}
	}

	return nil
}

// uploadJob is one file upload.
type uploadJob struct {
	src     io.ReaderAt
	size    int64
	workers int

	// state, if set, persists the upload URL, key material and completed chunks.
	state *resumeState
}

// uploadResult is what a completed upload needs to be turned into a node.
type uploadResult struct {
	completion string
	key        FileKey
}

// upload encrypts and sends every chunk of src, and returns the completion handle together
// with the final file key, whose meta-MAC condenses the chunk MACs.
func (m *Manager) upload(ctx context.Context, ch channel, job uploadJob) (res uploadResult, err error) {
	defer func() { m.metrics.done(string(Upload), err) }()

	var (
		url       string
		aesKey    []byte
		nonce     []byte
		completed string
	)

	if job.state != nil && job.state.Target != "" {
		url, completed = job.state.Target, job.state.Completion

		if aesKey, nonce, err = job.state.uploadKey(); err != nil {
			return uploadResult{}, err
		}
	} else {
		var res UploadURLRes

		if err := m.call(ctx, ch, UploadURLReq{Action: "u", Size: job.size}, &res); err != nil {
			return uploadResult{}, fmt.Errorf("failed to get upload URL: %w", err)
		}

		url, aesKey, nonce = res.URL, RandomBytes(16), RandomBytes(8)

		if job.state != nil {
			if err := job.state.begin(url, aesKey, nonce); err != nil {
				return uploadResult{}, err
			}
		}
	}

	cc, err := newChunkCipher(NewFileKey(aesKey, nonce, make([]byte, 8)))
	if err != nil {
		return uploadResult{}, err
	}

	chunks := Chunks(job.size)
	macs := newMACAccumulator(len(chunks))

	if job.state != nil {
		if err := job.state.seed(macs, len(chunks)); err != nil {
			return uploadResult{}, err
		}
	}

	var lock sync.Mutex

	if err := m.runChunks(ctx, chunks, job.workers, macs.done, func(ctx context.Context, c Chunk) error {
		data := make([]byte, c.Size)

		if n, err := job.src.ReadAt(data, c.Offset); n != c.Size {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}

			return &IOError{Op: "read", Err: err}
		}

		mac := cc.mac(data)

		cc.xor(c.Offset, data)

		var handle string

		attempts, err := retry(ctx, m.chunkRetries, defaultBackoff, func() (err error) {
			handle, err = m.putChunk(ctx, url, c.Offset, data)
			return err
		})
		if err != nil {
			return &TransferError{Chunk: c.Index, Offset: c.Offset, Attempts: attempts, Err: err}
		}

		macs.set(c.Index, mac)

		m.metrics.chunk(string(Upload), c.Size, attempts)

		if handle != "" {
			lock.Lock()
			completed = handle
			lock.Unlock()
		}

		if job.state != nil {
			return job.state.markUploaded(c.Index, mac, handle)
		}

		return nil
	}); err != nil {
		return uploadResult{}, err
	}

	if completed == "" {
		return uploadResult{}, fmt.Errorf("upload finished without a completion handle")
	}

	meta, err := macs.metaMAC(cc.block)
	if err != nil {
		return uploadResult{}, err
	}

	return uploadResult{completion: completed, key: NewFileKey(aesKey, nonce, meta)}, nil
}
