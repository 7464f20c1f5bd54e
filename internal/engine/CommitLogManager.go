package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"exstrkv/internal/logging"
	"exstrkv/internal/model"
	"exstrkv/internal/storage"
)

// ErrEnqueueTimeout is returned by Append when the writer goroutine does not
// accept the records in time.
var ErrEnqueueTimeout = errors.New("timeout after waiting for mutation to be added to commit log")

// ErrClosed is returned once the manager has shut down.
var ErrClosed = errors.New("commit log is closed")

type CommitLogFlusher struct {
	active_segment *os.File
	seq_number     uint64
	buffer         bytes.Buffer
	maxBufferBytes int
}

// CommitLogChanelMsg carries either the records of one command or a full
// rewrite of the log.
type CommitLogChanelMsg struct {
	muts                []model.Mutation
	rewrite             bool
	data_bufferred_done chan error
}

type CommitLogCfg struct {
	Path                 string
	EnqueueTimeout       time.Duration
	FlushInterval        time.Duration
	MaxEnqueuingMutation int
	BufferBytes          int
	Logger               *logging.Logger
}

/*
Channel-backed append flow keeps a single writer goroutine in charge of the log:
- Ordering: channel preserves request order; single goroutine owns the file handle.
- Sequencing: the writer assigns sequence numbers, so they follow file order.
- Backpressure: bounded channel + timeout lets callers fail fast instead of unbounded queueing.
- Atomicity: all records of one Append travel in one message and land in the buffer together.
- Shutdown: select on context to flush outstanding data before exit without racing writers.
*/
type CommitLogManager struct {
	flusher                   CommitLogFlusher
	commitlog_writter_channel chan CommitLogChanelMsg
	cfg                       CommitLogCfg
	flushT                    *time.Ticker
	lastSeq                   atomic.Uint64
	done                      chan struct{}
	log                       *logging.Logger
}

const (
	payloadLenBytes                = 4
	checksumBytes                  = 4
	seqNumBytes                    = 8
	timestampBytes                 = 8
	lenFieldSize                   = 4
	defaultCommitLogBufferBytes    = 4 * 1024 * 1024
	minimalCommitLogBufferBytes    = 128
	defaultMaxEnqueuingMutationVal = 1024
	defaultEnqueueTimeout          = 5 * time.Second
	defaultFlushInterval           = time.Second
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func NewCommitLogManager(ctx context.Context, cfg CommitLogCfg) (*CommitLogManager, context.CancelFunc, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("commitlog")
	}

	// Records appended after a torn tail would be unreachable on the next
	// load, so the damaged suffix is cut off first.
	lastSeq, intact, size := scanLog(cfg.Path)
	if intact < size {
		logger.Warn("truncating damaged commit log tail",
			slog.Int64("intact_bytes", intact),
			slog.Int64("file_size", size))
		if err := os.Truncate(cfg.Path, intact); err != nil {
			return nil, nil, fmt.Errorf("truncate commit log: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	bufferBytes := cfg.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = defaultCommitLogBufferBytes
	}
	if bufferBytes < minimalCommitLogBufferBytes {
		bufferBytes = minimalCommitLogBufferBytes
	}
	maxQueue := cfg.MaxEnqueuingMutation
	if maxQueue <= 0 {
		maxQueue = defaultMaxEnqueuingMutationVal
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	m := &CommitLogManager{
		cfg:                       cfg,
		commitlog_writter_channel: make(chan CommitLogChanelMsg, maxQueue),
		flushT:                    time.NewTicker(cfg.FlushInterval),
		done:                      make(chan struct{}),
		log:                       logger,
		flusher: CommitLogFlusher{
			active_segment: f,
			seq_number:     lastSeq,
			buffer:         bytes.Buffer{},
			maxBufferBytes: bufferBytes,
		},
	}
	m.lastSeq.Store(m.flusher.seq_number)

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(m.done)
		m.run(runCtx)
		m.flushT.Stop()
		if err := m.flusher.flush(); err != nil {
			m.log.Error("commit log shutdown flush failed", slog.String("error", err.Error()))
		}
		_ = m.flusher.active_segment.Close()
	}()
	return m, cancel, nil
}

// Append durably queues the records of one command. Sequence numbers are
// assigned by the writer goroutine; either all records are buffered or
// none is.
func (cm *CommitLogManager) Append(muts ...model.Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	return cm.send(CommitLogChanelMsg{muts: muts})
}

// Rewrite replaces the whole log with muts. They are numbered after the
// last sequence handed out, so sequence numbers never go backwards.
func (cm *CommitLogManager) Rewrite(muts []model.Mutation) error {
	return cm.send(CommitLogChanelMsg{muts: muts, rewrite: true})
}

func (cm *CommitLogManager) send(msg CommitLogChanelMsg) error {
	msg.data_bufferred_done = make(chan error, 1)
	timer := time.NewTimer(cm.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case <-cm.done:
		return ErrClosed
	case cm.commitlog_writter_channel <- msg:
	case <-timer.C:
		return ErrEnqueueTimeout
	}
	select {
	case err := <-msg.data_bufferred_done:
		return err
	case <-cm.done:
		// The writer may have answered just before exiting.
		select {
		case err := <-msg.data_bufferred_done:
			return err
		default:
			return ErrClosed
		}
	}
}

// LastSequence is the sequence number of the newest buffered record, 0 for
// an empty log.
func (cm *CommitLogManager) LastSequence() uint64 {
	return cm.lastSeq.Load()
}

// Done is closed once the writer goroutine has flushed and closed the file.
func (cm *CommitLogManager) Done() <-chan struct{} {
	return cm.done
}

// Load reads the whole commit log file to build the mutation list.
// Stops at the first corrupted or truncated record (crash-safe boundary).
func (cm *CommitLogManager) Load() []model.Mutation {
	return LoadCommitLog(cm.cfg.Path, cm.log)
}

// LoadCommitLog decodes the records of the log at path. A missing file is
// an empty log.
func LoadCommitLog(path string, logger *logging.Logger) []model.Mutation {
	mutations := make([]model.Mutation, 0)
	if logger == nil {
		logger = logging.WithComponent("commitlog")
	}

	readFile, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to open commit log for reading", slog.String("error", err.Error()))
		}
		return mutations
	}
	defer readFile.Close()

	fileInfo, err := readFile.Stat()
	if err != nil {
		logger.Error("failed to stat commit log", slog.String("error", err.Error()))
		return mutations
	}
	fileSize := fileInfo.Size()
	if fileSize == 0 {
		return mutations
	}

	var offset int64
	for offset < fileSize {
		payload, next, err := readRecord(readFile, offset, fileSize)
		if err != nil {
			logger.Warn("stopping commit log load at damaged record",
				slog.Int("record", len(mutations)),
				slog.Int64("offset", offset),
				slog.String("reason", err.Error()))
			break
		}
		mut, err := decodePayload(payload)
		if err != nil {
			logger.Warn("stopping commit log load at undecodable record",
				slog.Int("record", len(mutations)),
				slog.String("reason", err.Error()))
			break
		}
		mutations = append(mutations, mut)
		offset = next
	}

	logger.Info("loaded commit log",
		slog.Int("mutations", len(mutations)),
		slog.Int64("file_size", fileSize))
	return mutations
}

// readRecord returns the checksummed payload of the record at offset and
// the offset of the next one.
func readRecord(f *os.File, offset, fileSize int64) ([]byte, int64, error) {
	if offset+payloadLenBytes+checksumBytes > fileSize {
		return nil, 0, fmt.Errorf("truncated header")
	}
	header, err := storage.Read(f, offset, payloadLenBytes+checksumBytes)
	if err != nil {
		return nil, 0, err
	}
	if len(header) < payloadLenBytes+checksumBytes {
		return nil, 0, fmt.Errorf("short header read")
	}
	payloadLen := int64(binary.BigEndian.Uint32(header[:payloadLenBytes]))
	expectedChecksum := binary.BigEndian.Uint32(header[payloadLenBytes:])
	offset += payloadLenBytes + checksumBytes

	if offset+payloadLen > fileSize {
		return nil, 0, fmt.Errorf("truncated payload: expected %d bytes", payloadLen)
	}
	payload, err := storage.Read(f, offset, int(payloadLen))
	if err != nil {
		return nil, 0, err
	}
	if int64(len(payload)) < payloadLen {
		return nil, 0, fmt.Errorf("short payload read")
	}
	if actual := crc32.Checksum(payload, castagnoli); actual != expectedChecksum {
		return nil, 0, fmt.Errorf("crc mismatch: expected %x, got %x", expectedChecksum, actual)
	}
	return payload, offset + payloadLen, nil
}

func (cm *CommitLogManager) run(ctx context.Context) {
	for {
		select {
		case channelMsg := <-cm.commitlog_writter_channel:
			var err error
			if channelMsg.rewrite {
				err = cm.rewrite(channelMsg.muts)
			} else {
				err = cm.buffer(channelMsg.muts)
			}
			channelMsg.data_bufferred_done <- err
		case <-cm.flushT.C:
			if err := cm.flusher.flush(); err != nil {
				cm.log.Error("commit log periodic flush failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			cm.log.Info("commit log manager is shutting down, flushing active segment")
			return
		}
	}
}

// buffer encodes muts with consecutive sequence numbers and writes them to
// the buffer in one piece. Sequence numbers are only consumed on success.
func (cm *CommitLogManager) buffer(muts []model.Mutation) error {
	seq := cm.flusher.seq_number
	var data []byte
	for _, mut := range muts {
		seq++
		mut.Sequence = seq
		data = append(data, encodeMutation(mut)...)
	}
	if err := cm.flusher.write(data); err != nil {
		return err
	}
	cm.flusher.seq_number = seq
	cm.lastSeq.Store(seq)
	return nil
}

func (cm *CommitLogManager) rewrite(muts []model.Mutation) error {
	if err := cm.flusher.flush(); err != nil {
		return err
	}
	seq := cm.flusher.seq_number
	var data []byte
	for _, mut := range muts {
		seq++
		mut.Sequence = seq
		data = append(data, encodeMutation(mut)...)
	}
	if err := storage.Replace(cm.cfg.Path, data); err != nil {
		return err
	}

	f, err := os.OpenFile(cm.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	_ = cm.flusher.active_segment.Close()
	cm.flusher.active_segment = f
	cm.flusher.seq_number = seq
	cm.lastSeq.Store(seq)
	cm.log.Info("commit log rewritten", slog.Int("records", len(muts)), slog.Int("bytes", len(data)))
	return nil
}

func (flusher *CommitLogFlusher) write(data []byte) error {
	if flusher.active_segment == nil {
		return errors.New("no active segment")
	}

	if len(data) > flusher.maxBufferBytes {
		// Larger than the buffer: write it straight through after what is queued.
		if err := flusher.flush(); err != nil {
			return err
		}
		if err := storage.Write(flusher.active_segment, data); err != nil {
			return err
		}
		return flusher.active_segment.Sync()
	}

	if flusher.buffer.Len()+len(data) > flusher.maxBufferBytes {
		if err := flusher.flush(); err != nil {
			return err
		}
	}

	_, err := flusher.buffer.Write(data)
	return err
}

func (flusher *CommitLogFlusher) flush() error {
	if flusher.active_segment == nil {
		return errors.New("no active segment")
	}
	if flusher.buffer.Len() == 0 {
		return nil
	}

	if err := storage.Write(flusher.active_segment, flusher.buffer.Bytes()); err != nil {
		return err
	}
	err := flusher.active_segment.Sync()
	if err == nil {
		flusher.buffer.Reset()
	}
	return err
}

// get_latest_seq_num returns the sequence number of the last intact record
// in the log at path, 0 when there is none.
func get_latest_seq_num(path string) uint64 {
	seq, _, _ := scanLog(path)
	return seq
}

// scanLog walks the log at path and reports the last intact sequence
// number, the byte length of the intact prefix and the file size.
func scanLog(path string) (latestSeq uint64, intact int64, size int64) {
	readFile, err := os.Open(path)
	if err != nil {
		return 0, 0, 0
	}
	defer readFile.Close()

	fileInfo, err := readFile.Stat()
	if err != nil {
		return 0, 0, 0
	}
	size = fileInfo.Size()
	for intact < size {
		payload, next, err := readRecord(readFile, intact, size)
		if err != nil || len(payload) < seqNumBytes {
			break
		}
		latestSeq = binary.BigEndian.Uint64(payload[:seqNumBytes])
		intact = next
	}
	return latestSeq, intact, size
}

/*
Return encoded mutation record for Commit Log. The following table describes the structure of encoded mutation record.

| PayloadLength | CRC32C | Sequence | Timestamp | ArgCount | ArgLen  | Arg     | ... |
|---------------|--------|----------|-----------|----------|---------|---------|-----|
| 4 bytes       | 4 bytes| 8 bytes  | 8 bytes   | 4 bytes  | 4 bytes | N bytes | ... |

The encoding process:
 1. Build payload which is []byte from "Sequence" to the last argument.
 2. Compute CRC32C over payload.
 3. Prefix the payload with its length and the CRC.
*/
func encodeMutation(mut model.Mutation) []byte {
	size := seqNumBytes + timestampBytes + lenFieldSize
	for _, arg := range mut.Args {
		size += lenFieldSize + len(arg)
	}

	payload := make([]byte, 0, size)
	payload = append(payload, u64ToBytes(mut.Sequence)...)
	payload = append(payload, u64ToBytes(uint64(mut.Timestamp))...)
	payload = append(payload, u32ToBytes(uint32(len(mut.Args)))...)
	for _, arg := range mut.Args {
		payload = append(payload, u32ToBytes(uint32(len(arg)))...)
		payload = append(payload, arg...)
	}

	record := make([]byte, 0, payloadLenBytes+checksumBytes+len(payload))
	record = append(record, u32ToBytes(uint32(len(payload)))...)
	record = append(record, u32ToBytes(crc32.Checksum(payload, castagnoli))...)
	record = append(record, payload...)
	return record
}

// decodePayload extracts a Mutation from the payload portion of a record,
// keeping its original sequence number.
func decodePayload(payload []byte) (model.Mutation, error) {
	minSize := seqNumBytes + timestampBytes + lenFieldSize
	if len(payload) < minSize {
		return model.Mutation{}, fmt.Errorf("payload too short: %d bytes (minimum %d)", len(payload), minSize)
	}

	pos := 0
	seqNum := binary.BigEndian.Uint64(payload[pos : pos+seqNumBytes])
	pos += seqNumBytes
	ts := int64(binary.BigEndian.Uint64(payload[pos : pos+timestampBytes]))
	pos += timestampBytes
	argc := binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize])
	pos += lenFieldSize

	if argc == 0 {
		return model.Mutation{}, fmt.Errorf("record without arguments")
	}
	if int(argc) > (len(payload)-pos)/lenFieldSize {
		return model.Mutation{}, fmt.Errorf("argument count (%d) exceeds payload bounds", argc)
	}

	args := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		if pos+lenFieldSize > len(payload) {
			return model.Mutation{}, fmt.Errorf("argument %d length exceeds payload bounds", i)
		}
		n := int(binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize]))
		pos += lenFieldSize
		if n > len(payload)-pos {
			return model.Mutation{}, fmt.Errorf("argument %d (%d bytes) exceeds payload bounds", i, n)
		}
		args = append(args, string(payload[pos:pos+n]))
		pos += n
	}
	if pos != len(payload) {
		return model.Mutation{}, fmt.Errorf("%d trailing bytes after arguments", len(payload)-pos)
	}

	return model.Mutation{Sequence: seqNum, Timestamp: ts, Args: args}, nil
}

func u64ToBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func u32ToBytes(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}
