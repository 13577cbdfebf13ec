package artifacts

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// Row is one line of the optimization log: a scored student output.
type Row struct {
	Iteration     int
	Document      int
	StudentOutput string
	Score         int
	Critique      string
	Prompt        string
}

// Header names the log columns in order.
var Header = []string{"Iteration", "Document", "Student_Output", "Teacher_Score", "Teacher_Critique", "Prompt_Used"}

func (r Row) strings() []string {
	return []string{
		strconv.Itoa(r.Iteration),
		strconv.Itoa(r.Document),
		r.StudentOutput,
		strconv.Itoa(r.Score),
		r.Critique,
		r.Prompt,
	}
}

func (r Row) cells() []any {
	return []any{r.Iteration, r.Document, r.StudentOutput, r.Score, r.Critique, r.Prompt}
}

// table is an append-only tabular log.
type table interface {
	Append(row Row) error
	Close() error
}

// csvTable appends rows to a CSV file, flushing after each one so the log
// is usable if the run is interrupted.
type csvTable struct {
	file *os.File
	w    *csv.Writer
}

func openCSV(path string) (*csvTable, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	t := &csvTable{file: f, w: csv.NewWriter(f)}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := t.write(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *csvTable) write(record []string) error {
	if err := t.w.Write(record); err != nil {
		return err
	}
	t.w.Flush()
	return t.w.Error()
}

func (t *csvTable) Append(row Row) error {
	return t.write(row.strings())
}

func (t *csvTable) Close() error {
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		t.file.Close()
		return err
	}
	return t.file.Close()
}

const sheetName = "Sheet1"

// xlsxTable keeps the workbook in memory and saves it after every row.
type xlsxTable struct {
	file *excelize.File
	path string
	next int
}

func openXLSX(path string) (*xlsxTable, error) {
	f := excelize.NewFile()
	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	t := &xlsxTable{file: f, path: path, next: 2}
	if err := f.SaveAs(path); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *xlsxTable) Append(row Row) error {
	cell, err := excelize.CoordinatesToCellName(1, t.next)
	if err != nil {
		return err
	}
	values := row.cells()
	if err := t.file.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("writing row %d: %w", t.next, err)
	}
	t.next++
	return t.file.SaveAs(t.path)
}

func (t *xlsxTable) Close() error {
	return t.file.Close()
}
