package sink

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opendata-kr/g2b-collector/internal/fetcher"
)

// MongoSink stores contracts as documents with a unique index on the
// natural key. Inserts run unordered so duplicate-key failures skip the
// offending document without aborting the batch; the insert count excludes
// the duplicates, matching the table sinks' dedup contract.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoSink(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	if uri == "" {
		return nil, fmt.Errorf("invalid configuration: missing mongodb URI")
	}
	if database == "" {
		return nil, fmt.Errorf("invalid configuration: missing mongodb database")
	}
	if collection == "" {
		collection = "contracts"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)

	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "unique_contract_no", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create unique index: %w", err)
	}

	log.Printf("MongoSink ready for %s.%s", database, collection)
	return &MongoSink{client: client, collection: coll}, nil
}

func (s *MongoSink) Persist(ctx context.Context, category string, year int, records []fetcher.ContractRecord) (int, error) {
	records = withKey(records)
	if len(records) == 0 {
		return 0, nil
	}

	docs := make([]interface{}, 0, len(records))
	for _, r := range records {
		docs = append(docs, bson.M{
			"unique_contract_no":    r.UniqueContractNo,
			"business_div_name":     r.BusinessDivName,
			"contract_name":         r.ContractName,
			"conclusion_date":       r.ConclusionDate,
			"contract_period":       r.ContractPeriod,
			"total_amount":          nullInt(r.TotalAmount).Ptr(),
			"current_term_amount":   nullInt(r.CurrentTermAmount).Ptr(),
			"institution_code":      r.InstitutionCode,
			"institution_name":      r.InstitutionName,
			"jurisdiction_div_name": r.JurisdictionDivName,
			"conclusion_method":     r.ConclusionMethod,
			"pay_div_name":          r.PayDivName,
			"notice_no":             r.NoticeNo,
			"corp_list":             r.CorpList,
			"long_term_div_name":    r.LongTermDivName,
			"common_contract_yn":    r.CommonContractYn,
			"registered_at":         r.RegisteredAt,
			"collected_year":        r.CollectedYear,
			"collected_month":       r.CollectedMonth,
		})
	}

	res, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		// Unordered inserts report duplicate keys through a bulk write
		// exception; everything else is a real failure.
		bwe, ok := err.(mongo.BulkWriteException)
		if !ok {
			return 0, fmt.Errorf("error inserting contracts: %w", err)
		}
		const duplicateKeyCode = 11000
		for _, we := range bwe.WriteErrors {
			if we.Code != duplicateKeyCode {
				return 0, fmt.Errorf("error inserting contracts: %w", err)
			}
		}
	}

	inserted := 0
	if res != nil {
		inserted = len(res.InsertedIDs)
	}
	return inserted, nil
}

func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
