package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/opendata-kr/g2b-collector/internal/fetcher"
)

const contractsSchema = `
CREATE TABLE IF NOT EXISTS contracts (
    unty_cntrct_no               VARCHAR(50)  PRIMARY KEY,
    bsns_div_nm                  VARCHAR(10),
    cntrct_nm                    TEXT,
    cntrct_cncls_date            DATE,
    cntrct_prd                   VARCHAR(20),
    tot_cntrct_amt               BIGINT,
    thtm_cntrct_amt              BIGINT,
    cntrct_instt_cd              VARCHAR(20),
    cntrct_instt_nm              VARCHAR(200),
    cntrct_instt_jrsdctn_div_nm  VARCHAR(50),
    cntrct_cncls_mthd_nm         VARCHAR(50),
    pay_div_nm                   VARCHAR(50),
    ntce_no                      VARCHAR(50),
    corp_list                    TEXT,
    lngtrm_ctnu_div_nm           VARCHAR(20),
    cmmn_cntrct_yn               CHAR(1),
    rgst_dt                      TIMESTAMP,
    collected_year               SMALLINT,
    collected_month              SMALLINT
);

CREATE INDEX IF NOT EXISTS idx_contracts_period ON contracts(collected_year, collected_month);
CREATE INDEX IF NOT EXISTS idx_contracts_instt ON contracts(cntrct_instt_cd);
`

const insertContract = `
INSERT INTO contracts (
    unty_cntrct_no, bsns_div_nm, cntrct_nm, cntrct_cncls_date, cntrct_prd,
    tot_cntrct_amt, thtm_cntrct_amt, cntrct_instt_cd, cntrct_instt_nm,
    cntrct_instt_jrsdctn_div_nm, cntrct_cncls_mthd_nm, pay_div_nm, ntce_no,
    corp_list, lngtrm_ctnu_div_nm, cmmn_cntrct_yn, rgst_dt,
    collected_year, collected_month
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (unty_cntrct_no) DO NOTHING`

// PostgresSink batch-inserts contracts with conflict-ignore semantics on
// the natural key and reports the number of rows actually inserted.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("invalid configuration: missing postgres DSN")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging PostgreSQL: %w", err)
	}

	if _, err := db.Exec(contractsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	log.Printf("PostgresSink ready, contracts table initialized")
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Persist(ctx context.Context, category string, year int, records []fetcher.ContractRecord) (int, error) {
	records = withKey(records)
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertContract)
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

	log.Printf("Persisted %s %d: %d new of %d fetched", category, year, inserted, len(records))
	return inserted, nil
}

func (s *PostgresSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
