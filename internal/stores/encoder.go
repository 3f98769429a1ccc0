package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	instanceFormatVersionV1 = 1

	flagExhausted  = 1 << 0
	flagHasReceipt = 1 << 1

	maxStringLen   = 1<<16 - 1
	maxBackupCodes = 64
)

// EncodeInstance writes the versioned binary form:
// version(1) flags(1) then length-prefixed strings and big-endian unix-milli
// timestamps, followed by the receipt when present.
func EncodeInstance(inst *Instance) ([]byte, error) {
	if inst == nil {
		return nil, errors.New("nil instance")
	}

	var buf bytes.Buffer
	buf.WriteByte(instanceFormatVersionV1)

	var flags byte
	if inst.Exhausted {
		flags |= flagExhausted
	}
	if inst.Receipt != nil {
		flags |= flagHasReceipt
	}
	buf.WriteByte(flags)

	for _, s := range []string{inst.ID, inst.Principal, inst.Kind, inst.Step, inst.Destination} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	writeTime(&buf, inst.CreatedAt)
	writeTime(&buf, inst.UpdatedAt)

	if r := inst.Receipt; r != nil {
		for _, s := range []string{r.Channel, r.Destination, r.Reference, r.Secret} {
			if err := writeString(&buf, s); err != nil {
				return nil, err
			}
		}
		writeTime(&buf, r.IssuedAt)
		writeTime(&buf, r.ExpiresAt)

		if len(r.BackupCodes) > maxBackupCodes {
			return nil, fmt.Errorf("too many backup codes: %d", len(r.BackupCodes))
		}
		buf.WriteByte(byte(len(r.BackupCodes)))
		for _, code := range r.BackupCodes {
			if err := writeString(&buf, code); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// DecodeInstance parses the output of EncodeInstance.
func DecodeInstance(data []byte) (*Instance, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	if version != instanceFormatVersionV1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInstanceCorrupt, version)
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}

	inst := &Instance{Exhausted: flags&flagExhausted != 0}
	for _, dst := range []*string{&inst.ID, &inst.Principal, &inst.Kind, &inst.Step, &inst.Destination} {
		if *dst, err = readString(reader); err != nil {
			return nil, corrupt(err)
		}
	}
	if inst.CreatedAt, err = readTime(reader); err != nil {
		return nil, corrupt(err)
	}
	if inst.UpdatedAt, err = readTime(reader); err != nil {
		return nil, corrupt(err)
	}

	if flags&flagHasReceipt != 0 {
		r := &Receipt{}
		for _, dst := range []*string{&r.Channel, &r.Destination, &r.Reference, &r.Secret} {
			if *dst, err = readString(reader); err != nil {
				return nil, corrupt(err)
			}
		}
		if r.IssuedAt, err = readTime(reader); err != nil {
			return nil, corrupt(err)
		}
		if r.ExpiresAt, err = readTime(reader); err != nil {
			return nil, corrupt(err)
		}
		n, err := reader.ReadByte()
		if err != nil {
			return nil, corrupt(err)
		}
		if n > maxBackupCodes {
			return nil, fmt.Errorf("%w: backup code count %d", ErrInstanceCorrupt, n)
		}
		if n > 0 {
			r.BackupCodes = make([]string, n)
			for i := range r.BackupCodes {
				if r.BackupCodes[i], err = readString(reader); err != nil {
					return nil, corrupt(err)
				}
			}
		}
		inst.Receipt = r
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInstanceCorrupt, reader.Len())
	}
	return inst, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxStringLen {
		return fmt.Errorf("field too long: %d bytes", len(s))
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeTime(buf *bytes.Buffer, t time.Time) {
	var ms int64
	if !t.IsZero() {
		ms = t.UnixMilli()
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ms))
	buf.Write(b[:])
}

func readTime(r *bytes.Reader) (time.Time, error) {
	var ms int64
	if err := binary.Read(r, binary.BigEndian, &ms); err != nil {
		return time.Time{}, err
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrInstanceCorrupt, err)
}
