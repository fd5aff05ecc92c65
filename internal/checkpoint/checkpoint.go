package checkpoint

import (
	"encoding/json"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const dateLayout = "2006-01-02"

// Checkpoint is the single persisted cursor for a deployment. The current
// fields always name the next unfetched period; the loop only advances them
// after a period has fully succeeded or been confirmed empty.
type Checkpoint struct {
	CurrentCategory string `json:"current_category"`
	CurrentYear     int    `json:"current_year"`
	CurrentMonth    int    `json:"current_month"`
	DailyCallsUsed  int    `json:"daily_calls_used"`
	LastResetDate   string `json:"last_reset_date"`
	LastRunDate     string `json:"last_run_date"`
	TotalCollected  int64  `json:"total_collected"`
}

// Default returns the checkpoint used for a confirmed first-ever run.
func Default(firstCategory string, startYear int, now time.Time) *Checkpoint {
	today := now.Format(dateLayout)
	return &Checkpoint{
		CurrentCategory: firstCategory,
		CurrentYear:     startYear,
		CurrentMonth:    1,
		DailyCallsUsed:  0,
		LastResetDate:   today,
		LastRunDate:     today,
	}
}

// ResetDailyCounter zeroes the quota counter when the wall-clock date has
// rolled over since the last reset. Returns true when a reset happened.
func (c *Checkpoint) ResetDailyCounter(now time.Time) bool {
	today := now.Format(dateLayout)
	if c.LastResetDate == today {
		return false
	}
	c.DailyCallsUsed = 0
	c.LastResetDate = today
	return true
}

// legacyCategories maps the field values written by the original Python
// collector, which stored the business division in Korean.
var legacyCategories = map[string]string{
	"물품": "goods",
	"공사": "construction",
	"용역": "services",
	"외자": "foreign",
}

// Decode parses a persisted checkpoint, migrating the legacy field names
// (current_job or current_업무, daily_api_calls, last_api_reset_date) still
// found in long-lived deployments. The raw document is sniffed with gjson first so a
// half-recognized shape is repaired instead of silently zeroed.
func Decode(data []byte) (*Checkpoint, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("checkpoint is not valid JSON")
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}

	doc := gjson.ParseBytes(data)

	if cp.CurrentCategory == "" {
		// Two legacy variants exist: one wrote current_job, the other
		// current_업무. Both store the Korean division name.
		if job := doc.Get("current_job"); job.Exists() {
			cp.CurrentCategory = job.String()
		} else if job := doc.Get("current_업무"); job.Exists() {
			cp.CurrentCategory = job.String()
		}
	}
	if mapped, ok := legacyCategories[cp.CurrentCategory]; ok {
		cp.CurrentCategory = mapped
	}
	if cp.DailyCallsUsed == 0 {
		if calls := doc.Get("daily_api_calls"); calls.Exists() {
			cp.DailyCallsUsed = int(calls.Int())
		}
	}
	if cp.LastResetDate == "" {
		if reset := doc.Get("last_api_reset_date"); reset.Exists() {
			cp.LastResetDate = reset.String()
		}
	}

	return &cp, nil
}

// Validate repairs out-of-range fields against the configured collection
// range and category order, logging every repair. A checkpoint that names a
// category outside the enumeration is rejected outright: guessing a cursor
// position risks silently re-collecting decades of history.
func (c *Checkpoint) Validate(categories []string, startYear, endYear int) error {
	valid := false
	for _, cat := range categories {
		if cat == c.CurrentCategory {
			valid = true
			break
		}
	}
	if !valid {
		return errors.Errorf("checkpoint names unknown category %q", c.CurrentCategory)
	}

	if c.CurrentMonth < 1 || c.CurrentMonth > 12 {
		log.Printf("Repairing checkpoint: month %d out of range, resetting to 1", c.CurrentMonth)
		c.CurrentMonth = 1
	}
	if c.CurrentYear < startYear {
		log.Printf("Repairing checkpoint: year %d before range start %d", c.CurrentYear, startYear)
		c.CurrentYear = startYear
		c.CurrentMonth = 1
	}
	if c.DailyCallsUsed < 0 {
		log.Printf("Repairing checkpoint: negative daily call count %d", c.DailyCallsUsed)
		c.DailyCallsUsed = 0
	}
	if c.TotalCollected < 0 {
		c.TotalCollected = 0
	}

	return nil
}

// Encode renders the checkpoint as the JSON document stored remotely.
func (c *Checkpoint) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode checkpoint")
	}
	return data, nil
}
