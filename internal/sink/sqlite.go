package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opendata-kr/g2b-collector/internal/fetcher"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS contracts (
    unty_cntrct_no               TEXT NOT NULL PRIMARY KEY,
    bsns_div_nm                  TEXT,
    cntrct_nm                    TEXT,
    cntrct_cncls_date            TEXT,
    cntrct_prd                   TEXT,
    tot_cntrct_amt               INTEGER,
    thtm_cntrct_amt              INTEGER,
    cntrct_instt_cd              TEXT,
    cntrct_instt_nm              TEXT,
    cntrct_instt_jrsdctn_div_nm  TEXT,
    cntrct_cncls_mthd_nm         TEXT,
    pay_div_nm                   TEXT,
    ntce_no                      TEXT,
    corp_list                    TEXT,
    lngtrm_ctnu_div_nm           TEXT,
    cmmn_cntrct_yn               TEXT,
    rgst_dt                      TEXT,
    collected_year               INTEGER,
    collected_month              INTEGER,

    CHECK (length(unty_cntrct_no) > 0)
);

CREATE INDEX IF NOT EXISTS idx_contracts_period ON contracts(collected_year, collected_month);
`

const sqliteInsert = `
INSERT OR IGNORE INTO contracts (
    unty_cntrct_no, bsns_div_nm, cntrct_nm, cntrct_cncls_date, cntrct_prd,
    tot_cntrct_amt, thtm_cntrct_amt, cntrct_instt_cd, cntrct_instt_nm,
    cntrct_instt_jrsdctn_div_nm, cntrct_cncls_mthd_nm, pay_div_nm, ntce_no,
    corp_list, lngtrm_ctnu_div_nm, cmmn_cntrct_yn, rgst_dt,
    collected_year, collected_month
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteSink is the single-host table sink, with the same dedup contract
// as Postgres but no server dependency.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if dbPath == "" {
		dbPath = "contracts.sqlite"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set SQLite pragmas: %v", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create contracts table: %v", err)
	}

	log.Printf("SQLiteSink ready at %s", dbPath)
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Persist(ctx context.Context, category string, year int, records []fetcher.ContractRecord) (int, error) {
	records = withKey(records)
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		return 0, fmt.Errorf("error preparing insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.UniqueContractNo,
			nullString(r.BusinessDivName),
			nullString(r.ContractName),
			nullString(r.ConclusionDate),
			nullString(r.ContractPeriod),
			nullInt(r.TotalAmount),
			nullInt(r.CurrentTermAmount),
			nullString(r.InstitutionCode),
			nullString(r.InstitutionName),
			nullString(r.JurisdictionDivName),
			nullString(r.ConclusionMethod),
			nullString(r.PayDivName),
			nullString(r.NoticeNo),
			nullString(r.CorpList),
			nullString(r.LongTermDivName),
			nullString(r.CommonContractYn),
			nullString(r.RegisteredAt),
			r.CollectedYear,
			r.CollectedMonth,
		)
		if err != nil {
			return inserted, fmt.Errorf("error inserting contract %s: %w", r.UniqueContractNo, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("error reading rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing transaction: %w", err)
	}

	return inserted, nil
}

func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
