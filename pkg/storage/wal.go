package storage

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"sisort/pkg/common"
)

// [CRC32 4B] [Timestamp 8B] [Count 4B] [Values 8B * Count]

const (
	HeaderSize = 4 + 8 + 4 // 16 Bytes

	maxRecordValues = 1 << 28
)

var (
	ErrCorrupt = errors.New("sample log: corrupted record")
)

// SampleLog is an append-only file of training instances, so rounds can be
// collected over time and trained on later.
type SampleLog struct {
	file *os.File
	mu   sync.Mutex
	buf  *bufio.Writer
}

func OpenSampleLog(path string) (*SampleLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &SampleLog{
		file: f,
		buf:  bufio.NewWriter(f),
	}, nil
}

// Append writes one instance and flushes it to the file.
func (l *SampleLog) Append(inst []float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.write(inst); err != nil {
		return err
	}
	return l.buf.Flush()
}

// AppendSet writes every instance of ts with a single flush.
func (l *SampleLog) AppendSet(ts common.TrainingSet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, inst := range ts {
		if err := l.write(inst); err != nil {
			return err
		}
	}
	return l.buf.Flush()
}

func (l *SampleLog) write(inst []float64) error {
	if len(inst) > maxRecordValues {
		return errors.Newf("sample log: instance of %d values is too large", len(inst))
	}
	header := make([]byte, HeaderSize)
	body := make([]byte, 8*len(inst))

	binary.LittleEndian.PutUint64(header[4:12], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(inst)))
	for i, v := range inst {
		binary.LittleEndian.PutUint64(body[8*i:], math.Float64bits(v))
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[12:])
	checksum.Write(body)
	binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

	if _, err := l.buf.Write(header); err != nil {
		return err
	}
	_, err := l.buf.Write(body)
	return err
}

func (l *SampleLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buf.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

func (l *SampleLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buf.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// Truncate drops every stored instance.
func (l *SampleLog) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buf.Flush(); err != nil {
		return err
	}
	path := l.file.Name()
	if err := l.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = f
	l.buf = bufio.NewWriter(f)
	return l.file.Sync()
}

func (l *SampleLog) Size() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := l.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

type SampleIterator struct {
	reader *bufio.Reader
	file   *os.File
}

func (l *SampleLog) NewIterator() (*SampleIterator, error) {
	if err := l.Sync(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.file.Name())
	if err != nil {
		return nil, err
	}
	return &SampleIterator{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

// Next returns the next instance, or io.EOF after the last one.
func (it *SampleIterator) Next() (common.Instance, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(it.reader, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrCorrupt, "short header")
		}
		return nil, err
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	count := binary.LittleEndian.Uint32(header[12:16])
	if count > maxRecordValues {
		return nil, errors.Wrapf(ErrCorrupt, "record claims %d values", count)
	}

	body := make([]byte, 8*int(count))
	if _, err := io.ReadFull(it.reader, body); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "short body")
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[12:])
	checksum.Write(body)
	if checksum.Sum32() != storedCRC {
		return nil, errors.Wrap(ErrCorrupt, "crc mismatch")
	}

	inst := make(common.Instance, count)
	for i := range inst {
		inst[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[8*i:]))
	}
	return inst, nil
}

func (it *SampleIterator) Close() {
	it.file.Close()
}

// ReadAll loads the whole log as a training set.
func (l *SampleLog) ReadAll() (common.TrainingSet, error) {
	it, err := l.NewIterator()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ts common.TrainingSet
	for {
		inst, err := it.Next()
		if err == io.EOF {
			return ts, nil
		}
		if err != nil {
			return ts, err
		}
		ts = append(ts, inst)
	}
}
