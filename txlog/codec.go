package txlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/rewind/change"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the transaction record.
const (
	txIndexField       protowire.Number = 1
	txGTIDField        protowire.Number = 2
	txLogPosField      protowire.Number = 3
	txCommittedAtField protowire.Number = 4
	txChangeField      protowire.Number = 5
)

// Field numbers of a row change within a transaction record.
const (
	changeDatabaseField protowire.Number = 1
	changeTableField    protowire.Number = 2
	changeOpField       protowire.Number = 3
	changeKeyField      protowire.Number = 4
	changeBeforeField   protowire.Number = 5
	changeAfterField    protowire.Number = 6
)

// Field numbers of a column within an image.
const (
	columnNameField  protowire.Number = 1
	columnValueField protowire.Number = 2
)

// MarshalTransaction returns the binary representation of tx.
//
// The encoding uses the protocol buffers wire format, so that records remain
// readable by generic tooling.
func MarshalTransaction(tx change.Transaction) []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, txIndexField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, tx.Position.Index)

	if tx.Position.GTID != "" {
		buf = protowire.AppendTag(buf, txGTIDField, protowire.BytesType)
		buf = protowire.AppendString(buf, tx.Position.GTID)
	}

	if tx.Position.LogPos != 0 {
		buf = protowire.AppendTag(buf, txLogPosField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, tx.Position.LogPos)
	}

	if !tx.CommittedAt.IsZero() {
		buf = protowire.AppendTag(buf, txCommittedAtField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(tx.CommittedAt.UnixNano()))
	}

	for _, c := range tx.Changes {
		buf = protowire.AppendTag(buf, txChangeField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalChange(c))
	}

	return buf
}

func marshalChange(c change.RowChange) []byte {
	var buf []byte

	if c.Table.Database != "" {
		buf = protowire.AppendTag(buf, changeDatabaseField, protowire.BytesType)
		buf = protowire.AppendString(buf, c.Table.Database)
	}

	buf = protowire.AppendTag(buf, changeTableField, protowire.BytesType)
	buf = protowire.AppendString(buf, c.Table.Name)

	buf = protowire.AppendTag(buf, changeOpField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(c.Op))

	for _, img := range []struct {
		Field protowire.Number
		Image change.Image
	}{
		{changeKeyField, c.Key},
		{changeBeforeField, c.Before},
		{changeAfterField, c.After},
	} {
		if img.Image != nil {
			buf = protowire.AppendTag(buf, img.Field, protowire.BytesType)
			buf = protowire.AppendBytes(buf, marshalImage(img.Image))
		}
	}

	return buf
}

func marshalImage(img change.Image) []byte {
	// An empty image is encoded as a zero-length field, which is distinct
	// from an absent field.
	buf := []byte{}

	for _, name := range img.Columns() {
		var col []byte
		col = protowire.AppendTag(col, columnNameField, protowire.BytesType)
		col = protowire.AppendString(col, name)
		col = protowire.AppendTag(col, columnValueField, protowire.BytesType)
		col = protowire.AppendBytes(col, change.AppendValue(nil, img[name]))

		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendBytes(buf, col)
	}

	return buf
}

// UnmarshalTransaction parses a transaction produced by [MarshalTransaction].
//
// Commit times are returned in UTC.
func UnmarshalTransaction(data []byte) (change.Transaction, error) {
	var tx change.Transaction

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == txIndexField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			tx.Position.Index = v
			return n, nil

		case num == txGTIDField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			tx.Position.GTID = v
			return n, nil

		case num == txLogPosField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			tx.Position.LogPos = v
			return n, nil

		case num == txCommittedAtField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			tx.CommittedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			return n, nil

		case num == txChangeField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, nil
			}

			c, err := unmarshalChange(v)
			if err != nil {
				return 0, err
			}

			tx.Changes = append(tx.Changes, c)
			return n, nil

		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
	if err != nil {
		return change.Transaction{}, fmt.Errorf("unable to unmarshal transaction: %w", err)
	}

	if tx.Position.IsZero() {
		return change.Transaction{}, errors.New("unable to unmarshal transaction: position is missing")
	}

	return tx, nil
}

func unmarshalChange(data []byte) (change.RowChange, error) {
	var c change.RowChange

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == changeDatabaseField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			c.Table.Database = v
			return n, nil

		case num == changeTableField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			c.Table.Name = v
			return n, nil

		case num == changeOpField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			c.Op = change.Op(v)
			return n, nil

		case typ == protowire.BytesType && (num == changeKeyField || num == changeBeforeField || num == changeAfterField):
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, nil
			}

			img, err := unmarshalImage(v)
			if err != nil {
				return 0, err
			}

			switch num {
			case changeKeyField:
				c.Key = img
			case changeBeforeField:
				c.Before = img
			default:
				c.After = img
			}

			return n, nil

		default:
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
	})
	if err != nil {
		return change.RowChange{}, err
	}

	return c, c.Validate()
}

func unmarshalImage(data []byte) (change.Image, error) {
	img := change.Image{}

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if num != 1 || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}

		col, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return n, nil
		}

		var (
			name  string
			value change.Value
			found bool
		)

		if err := consumeFields(col, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
			switch {
			case num == columnNameField && typ == protowire.BytesType:
				v, n := protowire.ConsumeString(data)
				name = v
				return n, nil

			case num == columnValueField && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(data)
				if n < 0 {
					return n, nil
				}

				x, _, err := change.ConsumeValue(v)
				if err != nil {
					return 0, err
				}

				value = x
				found = true
				return n, nil

			default:
				return protowire.ConsumeFieldValue(num, typ, data), nil
			}
		}); err != nil {
			return 0, err
		}

		if name == "" || !found {
			return 0, errors.New("image column is incomplete")
		}

		img[name] = value
		return n, nil
	})

	return img, err
}

// consumeFields calls fn for each field in data. fn returns the number of
// bytes of the field's value that it consumed, or a negative protowire error
// code.
func consumeFields(
	data []byte,
	fn func(num protowire.Number, typ protowire.Type, data []byte) (int, error),
) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		n, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
	}

	return nil
}
