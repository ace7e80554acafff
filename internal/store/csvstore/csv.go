package csvstore

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesacore/pesacore/internal/model"
)

// AccountsHeader is the CSV header for accounts.csv.
const AccountsHeader = "account_id,account_number,owner_id,currency,created_at"

const (
	numAccountFields = 5
	colAcctID        = 0
	colAcctNumber    = 1
	colAcctOwner     = 2
	colAcctCurrency  = 3
	colAcctCreated   = 4
)

// TransactionsHeader is the CSV header for transactions.csv.
const TransactionsHeader = "transaction_id,batch_id,batch_size,account_id,counterparty,type,status,amount,currency,reason,created_at"

const (
	numTxnFields   = 11
	colTxnID       = 0
	colBatchID     = 1
	colBatchSize   = 2
	colTxnAcct     = 3
	colCounterpart = 4
	colType        = 5
	colStatus      = 6
	colAmount      = 7
	colCurrency    = 8
	colReason      = 9
	colCreated     = 10
)

const timeFormat = time.RFC3339Nano

// Row is one transactions.csv line: a transaction plus the batch it was
// committed in.
type Row struct {
	BatchID   string
	BatchSize int
	Txn       model.Transaction
}

// MarshalAccount converts an account's registry fields to a CSV row. Balance
// and version are not stored; they are rebuilt from transactions.csv.
func MarshalAccount(a model.Account) []string {
	row := make([]string, numAccountFields)
	row[colAcctID] = a.ID
	row[colAcctNumber] = a.AccountNumber
	row[colAcctOwner] = a.OwnerID
	row[colAcctCurrency] = a.Currency
	row[colAcctCreated] = a.CreatedAt.UTC().Format(timeFormat)
	return row
}

// UnmarshalAccount converts a CSV row to an account at zero balance.
func UnmarshalAccount(record []string) (model.Account, error) {
	if len(record) != numAccountFields {
		return model.Account{}, fmt.Errorf("expected %d fields, got %d", numAccountFields, len(record))
	}

	created, err := time.Parse(timeFormat, record[colAcctCreated])
	if err != nil {
		return model.Account{}, fmt.Errorf("parsing created_at %q: %w", record[colAcctCreated], err)
	}

	return model.Account{
		ID:            record[colAcctID],
		AccountNumber: record[colAcctNumber],
		OwnerID:       record[colAcctOwner],
		Currency:      record[colAcctCurrency],
		Balance:       decimal.Zero,
		CreatedAt:     created,
		UpdatedAt:     created,
	}, nil
}

// MarshalRow converts a Row to a CSV row.
func MarshalRow(r Row) []string {
	row := make([]string, numTxnFields)
	row[colTxnID] = r.Txn.ID
	row[colBatchID] = r.BatchID
	row[colBatchSize] = strconv.Itoa(r.BatchSize)
	row[colTxnAcct] = r.Txn.AccountID
	row[colCounterpart] = r.Txn.Counterparty
	row[colType] = string(r.Txn.Type)
	row[colStatus] = string(r.Txn.Status)
	row[colAmount] = r.Txn.Amount.String()
	row[colCurrency] = r.Txn.Currency
	row[colReason] = r.Txn.Reason
	row[colCreated] = r.Txn.CreatedAt.UTC().Format(timeFormat)
	return row
}

// UnmarshalRow converts a CSV row to a Row.
func UnmarshalRow(record []string) (Row, error) {
	if len(record) != numTxnFields {
		return Row{}, fmt.Errorf("expected %d fields, got %d", numTxnFields, len(record))
	}

	size, err := strconv.Atoi(record[colBatchSize])
	if err != nil || size < 1 {
		return Row{}, fmt.Errorf("parsing batch_size %q", record[colBatchSize])
	}

	amount, err := decimal.NewFromString(record[colAmount])
	if err != nil {
		return Row{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}

	created, err := time.Parse(timeFormat, record[colCreated])
	if err != nil {
		return Row{}, fmt.Errorf("parsing created_at %q: %w", record[colCreated], err)
	}

	typ := model.TransactionType(record[colType])
	if !typ.Valid() {
		return Row{}, fmt.Errorf("unknown type %q", record[colType])
	}
	status := model.TransactionStatus(record[colStatus])
	if !status.Valid() {
		return Row{}, fmt.Errorf("unknown status %q", record[colStatus])
	}

	return Row{
		BatchID:   record[colBatchID],
		BatchSize: size,
		Txn: model.Transaction{
			ID:           record[colTxnID],
			AccountID:    record[colTxnAcct],
			Counterparty: record[colCounterpart],
			Type:         typ,
			Status:       status,
			Amount:       amount,
			Currency:     record[colCurrency],
			Reason:       record[colReason],
			CreatedAt:    created,
		},
	}, nil
}

// ReadAccounts reads every account from an accounts.csv reader.
func ReadAccounts(r io.Reader) ([]model.Account, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numAccountFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading accounts CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Skip header row.
	var accts []model.Account
	for i, rec := range records[1:] {
		a, err := UnmarshalAccount(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		accts = append(accts, a)
	}
	return accts, nil
}

// Journal is the parsed content of transactions.csv.
type Journal struct {
	Rows []Row
	// Valid is the byte length of the complete batches. Anything after it is
	// a torn write.
	Valid int64
}

// ReadJournal parses transactions.csv content. Rows of a batch must be
// contiguous; an unfinished final batch is excluded from Rows and Valid.
func ReadJournal(data []byte) (Journal, error) {
	var j Journal

	// A write cut mid-line never reached its newline.
	body := data
	if i := bytes.LastIndexByte(data, '\n'); i+1 != len(data) {
		body = data[:i+1]
	}

	cr := csv.NewReader(bytes.NewReader(body))
	cr.FieldsPerRecord = numTxnFields

	header := true
	var pending []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Journal{}, fmt.Errorf("reading transactions CSV: %w", err)
		}
		if header {
			if strings.Join(rec, ",") != TransactionsHeader {
				return Journal{}, fmt.Errorf("unexpected transactions header %q", strings.Join(rec, ","))
			}
			header = false
			j.Valid = cr.InputOffset()
			continue
		}

		row, err := UnmarshalRow(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return Journal{}, fmt.Errorf("line %d: %w", line, err)
		}

		if len(pending) > 0 && pending[0].BatchID != row.BatchID {
			return Journal{}, fmt.Errorf("batch %s interrupted by batch %s", pending[0].BatchID, row.BatchID)
		}
		pending = append(pending, row)
		if len(pending) == row.BatchSize {
			j.Rows = append(j.Rows, pending...)
			j.Valid = cr.InputOffset()
			pending = nil
		}
	}
	return j, nil
}

// AppendRows writes rows to w (no header).
func AppendRows(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	for i, r := range rows {
		if err := cw.Write(MarshalRow(r)); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
