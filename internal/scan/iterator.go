package scan

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/widerow/internal/codec"
)

// Row is one stored row with its columns filtered by the slice in effect.
type Row struct {
	Key     []byte
	Columns []codec.Column
}

// Interpreter turns a scan page into rows.
type Interpreter interface {
	Interpret(page *Page) []Row
}

// SingleRowInterpreter interprets pages of a table where every row is
// exactly one item. Such rows never span pages, so the interpreter is valid
// for sequential and parallel scans alike. It must not be reused for
// layouts that split a row over several items.
type SingleRowInterpreter struct {
	Start []byte
	End   []byte
	Limit int
}

// Interpret yields one row per item that carries a row key, including rows
// whose filtered column list is empty.
func (in SingleRowInterpreter) Interpret(page *Page) []Row {
	rows := make([]Row, 0, len(page.Items))
	for _, item := range page.Items {
		rows = append(rows, in.row(item)...)
	}
	return rows
}

func (in SingleRowInterpreter) row(item map[string]types.AttributeValue) []Row {
	key, ok := codec.RowKey(item)
	if !ok {
		return nil
	}
	return []Row{{Key: key, Columns: codec.Decode(item, in.Start, in.End, in.Limit)}}
}

// Iterator lazily walks the rows of a scan. It cannot be rewound; start a
// new scan to iterate again.
//
//	for it.Next(ctx) {
//	    row := it.Row()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	scanner     Scanner
	interpreter Interpreter
	buf         []Row
	cur         Row
	err         error
	done        bool
}

// NewIterator creates an Iterator over scanner's pages.
func NewIterator(scanner Scanner, interpreter Interpreter) *Iterator {
	return &Iterator{scanner: scanner, interpreter: interpreter}
}

// Next advances to the next row, fetching pages as needed. It returns false
// when the scan is exhausted, fails, or the iterator is closed.
func (it *Iterator) Next(ctx context.Context) bool {
	for len(it.buf) == 0 {
		if it.done {
			return false
		}
		page, err := it.scanner.Next(ctx)
		if errors.Is(err, io.EOF) {
			it.finish(nil)
			return false
		}
		if err != nil {
			it.finish(err)
			return false
		}
		it.buf = it.interpreter.Interpret(page)
	}
	it.cur, it.buf = it.buf[0], it.buf[1:]
	return true
}

// Row returns the current row.
func (it *Iterator) Row() Row { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the scan. Further calls to Next return false.
func (it *Iterator) Close() error {
	it.finish(nil)
	it.buf = nil
	return nil
}

func (it *Iterator) finish(err error) {
	if it.done {
		return
	}
	it.done = true
	it.err = err
	it.scanner.Close()
}
