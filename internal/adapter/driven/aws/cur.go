package aws

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
	"github.com/cloudlens/cost-ingest-go/internal/domain/repository"
)

// curRow maps the columns the aggregator needs from a cost-and-usage parquet
// file. Column names follow the export's snake_cased schema.
type curRow struct {
	LineItemType  string  `parquet:"line_item_line_item_type,optional"`
	UnblendedCost float64 `parquet:"line_item_unblended_cost,optional"`
	UsageStart    int64   `parquet:"line_item_usage_start_date,optional,timestamp(microsecond)"`
	ServiceCode   string  `parquet:"product_servicecode,optional"`
}

const readerBatch = 1024

// CURDecoder decodes cost-and-usage parquet files into line items.
//
// Parquet needs random access to read its footer, so Open spools the stream
// to a temporary file first. The engine's per-file size ceiling bounds the
// spool.
type CURDecoder struct{}

// NewCURDecoder returns the parquet export decoder.
func NewCURDecoder() *CURDecoder {
	return &CURDecoder{}
}

func (d *CURDecoder) Open(ctx context.Context, r io.Reader, size int64) (repository.LineItemReader, error) {
	tmp, err := os.CreateTemp("", "cur-*.parquet")
	if err != nil {
		return nil, fmt.Errorf("spool export file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("spool export file: %w", err)
	}

	pr := parquet.NewGenericReader[curRow](tmp)
	return &curReader{
		ctx:    ctx,
		file:   tmp,
		reader: pr,
		buf:    make([]curRow, readerBatch),
	}, nil
}

type curReader struct {
	ctx    context.Context
	file   *os.File
	reader *parquet.GenericReader[curRow]

	buf  []curRow
	n    int
	next int
	done bool
}

// Next returns the following row, or io.EOF once the file is exhausted.
func (c *curReader) Next() (entity.LineItem, error) {
	if err := c.ctx.Err(); err != nil {
		return entity.LineItem{}, err
	}

	if c.next >= c.n {
		if c.done {
			return entity.LineItem{}, io.EOF
		}
		n, err := c.reader.Read(c.buf)
		if err == io.EOF {
			c.done = true
		} else if err != nil {
			return entity.LineItem{}, fmt.Errorf("read export rows: %w", err)
		}
		if n == 0 {
			return entity.LineItem{}, io.EOF
		}
		c.n = n
		c.next = 0
	}

	row := c.buf[c.next]
	c.next++
	return entity.LineItem{
		Type:          row.LineItemType,
		UnblendedCost: row.UnblendedCost,
		UsageStart:    microsToTime(row.UsageStart),
		ServiceName:   row.ServiceCode,
	}, nil
}

func microsToTime(micros int64) time.Time {
	if micros == 0 {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}

func (c *curReader) Close() error {
	err := c.reader.Close()
	c.file.Close()
	os.Remove(c.file.Name())
	return err
}
