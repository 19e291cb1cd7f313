// Package dynamo implements the store.Graph facade on a DynamoDB single
// table. Every entity lives under a composite PK/SK; GSI1 serves per-ontology
// listings and GSI2 serves secondary lookups (content hashes, document
// chunks). Edges are stored as mirrored item pairs so one Query per node id
// returns both directions.
package dynamo

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/store"
)

const (
	skMeta         = "META"
	gsi1Name       = "GSI1"
	gsi2Name       = "GSI2"
	neighborFanout = 8 // concurrent per-id queries in Neighbors
)

// Store implements store.Graph on DynamoDB.
type Store struct {
	client *dynamodb.Client
	table  string
	logger *zap.Logger
}

var _ store.Graph = (*Store)(nil)

// NewClient builds a DynamoDB client from configuration. A non-empty
// Endpoint points the client at dynamodb-local.
func NewClient(ctx context.Context, cfg config.DynamoDB) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return client, nil
}

// New wraps a client and table into a Store.
func New(client *dynamodb.Client, table string, logger *zap.Logger) *Store {
	return &Store{client: client, table: table, logger: logger}
}

// Close is a no-op; the SDK client holds no long-lived resources.
func (s *Store) Close() error { return nil }

// ---- item shapes ----

type conceptItem struct {
	PK          string   `dynamodbav:"PK"`
	SK          string   `dynamodbav:"SK"`
	GSI1PK      string   `dynamodbav:"GSI1PK"`
	GSI1SK      string   `dynamodbav:"GSI1SK"`
	EntityKind  string   `dynamodbav:"EntityKind"`
	ConceptID   string   `dynamodbav:"ConceptID"`
	Ontology    string   `dynamodbav:"Ontology"`
	Label       string   `dynamodbav:"Label"`
	Description string   `dynamodbav:"Description"`
	SearchTerms []string `dynamodbav:"SearchTerms,omitempty"`
	Embedding   []byte   `dynamodbav:"Embedding,omitempty"`
	CreatedAt   string   `dynamodbav:"CreatedAt"`
}

type sourceItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	GSI1PK     string `dynamodbav:"GSI1PK"`
	GSI1SK     string `dynamodbav:"GSI1SK"`
	GSI2PK     string `dynamodbav:"GSI2PK"`
	GSI2SK     string `dynamodbav:"GSI2SK"`
	EntityKind string `dynamodbav:"EntityKind"`
	SourceID   string `dynamodbav:"SourceID"`
	DocumentID string `dynamodbav:"DocumentID"`
	Ontology   string `dynamodbav:"Ontology"`
	ChunkIndex int    `dynamodbav:"ChunkIndex"`
	FullText   string `dynamodbav:"FullText"`
	ByteStart  int    `dynamodbav:"ByteStart"`
	ByteEnd    int    `dynamodbav:"ByteEnd"`
	ObjectKey  string `dynamodbav:"ObjectKey,omitempty"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
}

type instanceItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityKind string `dynamodbav:"EntityKind"`
	ConceptID  string `dynamodbav:"ConceptID"`
	SourceID   string `dynamodbav:"SourceID"`
	Quote      string `dynamodbav:"Quote"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
}

type edgeItem struct {
	PK         string   `dynamodbav:"PK"`
	SK         string   `dynamodbav:"SK"`
	GSI1PK     string   `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK     string   `dynamodbav:"GSI1SK,omitempty"`
	EntityKind string   `dynamodbav:"EntityKind"`
	FromID     string   `dynamodbav:"FromID"`
	ToID       string   `dynamodbav:"ToID"`
	EdgeType   string   `dynamodbav:"EdgeType"`
	Ontology   string   `dynamodbav:"Ontology"`
	Confidence float64  `dynamodbav:"Confidence"`
	Evidence   []string `dynamodbav:"Evidence,omitempty"`
	CreatedAt  string   `dynamodbav:"CreatedAt"`
}

type documentItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	GSI1PK      string `dynamodbav:"GSI1PK"`
	GSI1SK      string `dynamodbav:"GSI1SK"`
	GSI2PK      string `dynamodbav:"GSI2PK"`
	GSI2SK      string `dynamodbav:"GSI2SK"`
	EntityKind  string `dynamodbav:"EntityKind"`
	DocumentID  string `dynamodbav:"DocumentID"`
	ContentHash string `dynamodbav:"ContentHash"`
	Ontology    string `dynamodbav:"Ontology"`
	Filename    string `dynamodbav:"Filename,omitempty"`
	ContentType string `dynamodbav:"ContentType"`
	MimeType    string `dynamodbav:"MimeType,omitempty"`
	SizeBytes   int64  `dynamodbav:"SizeBytes"`
	ObjectKey   string `dynamodbav:"ObjectKey,omitempty"`
	SourceURL   string `dynamodbav:"SourceURL,omitempty"`
	IngestedAt  string `dynamodbav:"IngestedAt"`
}

type vocabItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityKind string `dynamodbav:"EntityKind"`
	Doc        string `dynamodbav:"Doc"`
}

type jobItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	GSI1PK      string `dynamodbav:"GSI1PK"`
	GSI1SK      string `dynamodbav:"GSI1SK"`
	GSI2PK      string `dynamodbav:"GSI2PK,omitempty"`
	GSI2SK      string `dynamodbav:"GSI2SK,omitempty"`
	EntityKind  string `dynamodbav:"EntityKind"`
	JobID       string `dynamodbav:"JobID"`
	Status      string `dynamodbav:"Status"`
	JobType     string `dynamodbav:"JobType"`
	Ontology    string `dynamodbav:"Ontology"`
	ContentHash string `dynamodbav:"ContentHash,omitempty"`
	SubmittedAt string `dynamodbav:"SubmittedAt"`
	Doc         string `dynamodbav:"Doc"`
}

type modelConfigItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	GSI1PK     string `dynamodbav:"GSI1PK"`
	GSI1SK     string `dynamodbav:"GSI1SK"`
	EntityKind string `dynamodbav:"EntityKind"`
	Kind       string `dynamodbav:"Kind"`
	Active     bool   `dynamodbav:"Active"`
	Doc        string `dynamodbav:"Doc"`
}

// ---- concepts ----

func (s *Store) PutConcept(ctx context.Context, c *domain.Concept) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutConcept"); err != nil {
		return false, err
	}
	item, err := attributevalue.MarshalMap(conceptItem{
		PK:          conceptPK(c.ID),
		SK:          skMeta,
		GSI1PK:      fmt.Sprintf("ONT#%s#CONCEPTS", c.Ontology),
		GSI1SK:      fmt.Sprintf("CONCEPT#%s", c.ID),
		EntityKind:  "concept",
		ConceptID:   c.ID,
		Ontology:    c.Ontology,
		Label:       c.Label,
		Description: c.Description,
		SearchTerms: c.SearchTerms,
		Embedding:   encodeVec(c.Embedding),
		CreatedAt:   fmtTime(c.CreatedAt),
	})
	if err != nil {
		return false, kgerrors.Wrap(err, "PutConcept")
	}
	return s.conditionalPut(ctx, item, "PutConcept")
}

func (s *Store) GetConcept(ctx context.Context, id string) (*domain.Concept, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       metaKey(conceptPK(id)),
	})
	if err != nil {
		return nil, classify(err, "GetConcept")
	}
	if out.Item == nil {
		return nil, kgerrors.NotFound("concept", id)
	}
	return unmarshalConcept(out.Item)
}

func (s *Store) GetConcepts(ctx context.Context, ids []string) ([]*domain.Concept, error) {
	var out []*domain.Concept
	for _, batch := range chunkStrings(ids, 100) { // BatchGetItem limit
		keys := make([]map[string]ddbtypes.AttributeValue, len(batch))
		for i, id := range batch {
			keys[i] = metaKey(conceptPK(id))
		}
		req := map[string]ddbtypes.KeysAndAttributes{
			s.table: {Keys: keys},
		}
		for len(req) > 0 {
			resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: req})
			if err != nil {
				return nil, classify(err, "GetConcepts")
			}
			for _, item := range resp.Responses[s.table] {
				c, err := unmarshalConcept(item)
				if err != nil {
					return nil, err
				}
				out = append(out, c)
			}
			if len(resp.UnprocessedKeys) == 0 {
				break
			}
			req = resp.UnprocessedKeys
		}
	}
	return out, nil
}

func (s *Store) MergeSearchTerms(ctx context.Context, id string, terms []string) error {
	if err := store.RequireWriteIntent(ctx, "MergeSearchTerms"); err != nil {
		return err
	}
	// Read-merge-write; a concurrent merge of the same concept is rare and
	// converges because the term set only grows.
	c, err := s.GetConcept(ctx, id)
	if err != nil {
		return err
	}
	if c.MergeSearchTerms(terms) == 0 {
		return nil
	}
	av, err := attributevalue.MarshalList(c.SearchTerms)
	if err != nil {
		return kgerrors.Wrap(err, "MergeSearchTerms")
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              metaKey(conceptPK(id)),
		UpdateExpression: aws.String("SET SearchTerms = :terms"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":terms": &ddbtypes.AttributeValueMemberL{Value: av},
		},
	})
	return classify(err, "MergeSearchTerms")
}

func (s *Store) ListConcepts(ctx context.Context, ontology string, limit, offset int) ([]*domain.Concept, error) {
	if ontology == "" {
		return s.scanConcepts(ctx, limit, offset)
	}
	if limit <= 0 {
		limit = 1000
	}
	var out []*domain.Concept
	var start map[string]ddbtypes.AttributeValue
	skipped := 0
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(gsi1Name),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("ONT#%s#CONCEPTS", ontology)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "ListConcepts")
		}
		for _, item := range resp.Items {
			if skipped < offset {
				skipped++
				continue
			}
			c, err := unmarshalConcept(item)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
			if len(out) == limit {
				return out, nil
			}
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

func (s *Store) scanConcepts(ctx context.Context, limit, offset int) ([]*domain.Concept, error) {
	if limit <= 0 {
		limit = 1000
	}
	var out []*domain.Concept
	skipped := 0
	err := s.scanKind(ctx, "concept", func(item map[string]ddbtypes.AttributeValue) (bool, error) {
		if skipped < offset {
			skipped++
			return true, nil
		}
		c, err := unmarshalConcept(item)
		if err != nil {
			return false, err
		}
		out = append(out, c)
		return len(out) < limit, nil
	})
	return out, err
}

func (s *Store) ListEmbeddings(ctx context.Context, ontology string) ([]store.ConceptVector, error) {
	var out []store.ConceptVector
	collect := func(item map[string]ddbtypes.AttributeValue) (bool, error) {
		var ci conceptItem
		if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
			return false, kgerrors.Wrap(err, "ListEmbeddings")
		}
		if len(ci.Embedding) > 0 {
			out = append(out, store.ConceptVector{
				ID:        ci.ConceptID,
				Ontology:  ci.Ontology,
				Embedding: decodeVec(ci.Embedding),
			})
		}
		return true, nil
	}

	if ontology == "" {
		if err := s.scanKind(ctx, "concept", collect); err != nil {
			return nil, err
		}
		return out, nil
	}

	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(gsi1Name),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("ONT#%s#CONCEPTS", ontology)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "ListEmbeddings")
		}
		for _, item := range resp.Items {
			if _, err := collect(item); err != nil {
				return nil, err
			}
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

// ---- sources and instances ----

func (s *Store) PutSource(ctx context.Context, src *domain.Source) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutSource"); err != nil {
		return false, err
	}
	item, err := attributevalue.MarshalMap(sourceItem{
		PK:         sourcePK(src.ID),
		SK:         skMeta,
		GSI1PK:     fmt.Sprintf("ONT#%s#SOURCES", src.Ontology),
		GSI1SK:     fmt.Sprintf("SOURCE#%s", src.ID),
		GSI2PK:     fmt.Sprintf("DOC#%s", src.DocumentID),
		GSI2SK:     fmt.Sprintf("CHUNK#%06d", src.ChunkIndex),
		EntityKind: "source",
		SourceID:   src.ID,
		DocumentID: src.DocumentID,
		Ontology:   src.Ontology,
		ChunkIndex: src.ChunkIndex,
		FullText:   src.FullText,
		ByteStart:  src.ByteStart,
		ByteEnd:    src.ByteEnd,
		ObjectKey:  src.ObjectKey,
		CreatedAt:  fmtTime(src.CreatedAt),
	})
	if err != nil {
		return false, kgerrors.Wrap(err, "PutSource")
	}
	return s.conditionalPut(ctx, item, "PutSource")
}

func (s *Store) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       metaKey(sourcePK(id)),
	})
	if err != nil {
		return nil, classify(err, "GetSource")
	}
	if out.Item == nil {
		return nil, kgerrors.NotFound("source", id)
	}
	var si sourceItem
	if err := attributevalue.UnmarshalMap(out.Item, &si); err != nil {
		return nil, kgerrors.Wrap(err, "GetSource")
	}
	return &domain.Source{
		ID:         si.SourceID,
		DocumentID: si.DocumentID,
		Ontology:   si.Ontology,
		ChunkIndex: si.ChunkIndex,
		FullText:   si.FullText,
		ByteStart:  si.ByteStart,
		ByteEnd:    si.ByteEnd,
		ObjectKey:  si.ObjectKey,
		CreatedAt:  parseTime(si.CreatedAt),
	}, nil
}

func (s *Store) PutInstance(ctx context.Context, in *domain.Instance) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutInstance"); err != nil {
		return false, err
	}
	item, err := attributevalue.MarshalMap(instanceItem{
		PK:         conceptPK(in.ConceptID),
		SK:         fmt.Sprintf("INSTANCE#%s", in.SourceID),
		EntityKind: "instance",
		ConceptID:  in.ConceptID,
		SourceID:   in.SourceID,
		Quote:      in.Quote,
		CreatedAt:  fmtTime(in.CreatedAt),
	})
	if err != nil {
		return false, kgerrors.Wrap(err, "PutInstance")
	}
	return s.conditionalPut(ctx, item, "PutInstance")
}

func (s *Store) ListInstances(ctx context.Context, conceptID string, limit int) ([]*domain.Instance, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*domain.Instance
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: conceptPK(conceptID)},
				":sk": &ddbtypes.AttributeValueMemberS{Value: "INSTANCE#"},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "ListInstances")
		}
		for _, item := range resp.Items {
			var ii instanceItem
			if err := attributevalue.UnmarshalMap(item, &ii); err != nil {
				return nil, kgerrors.Wrap(err, "ListInstances")
			}
			out = append(out, &domain.Instance{
				ConceptID: ii.ConceptID,
				SourceID:  ii.SourceID,
				Quote:     ii.Quote,
				CreatedAt: parseTime(ii.CreatedAt),
			})
			if len(out) == limit {
				return out, nil
			}
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

func (s *Store) CountInstances(ctx context.Context, conceptID string) (int, error) {
	total := 0
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: conceptPK(conceptID)},
				":sk": &ddbtypes.AttributeValueMemberS{Value: "INSTANCE#"},
			},
			Select:            ddbtypes.SelectCount,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return 0, classify(err, "CountInstances")
		}
		total += int(resp.Count)
		if resp.LastEvaluatedKey == nil {
			return total, nil
		}
		start = resp.LastEvaluatedKey
	}
}

// ---- relationships ----

func outEdgeSK(typ, toID string) string  { return fmt.Sprintf("EDGE#OUT#%s#%s", typ, toID) }
func inEdgeSK(typ, fromID string) string { return fmt.Sprintf("EDGE#IN#%s#%s", typ, fromID) }

func (s *Store) PutRelationship(ctx context.Context, r *domain.Relationship) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutRelationship"); err != nil {
		return false, err
	}
	// Fetch-merge-write. The OUT item is authoritative; the IN mirror is
	// rewritten to match in the same transaction.
	existing, err := s.getEdge(ctx, r.FromID, r.ToID, r.Type)
	if err != nil && !kgerrors.IsKind(err, kgerrors.KindNotFound) {
		return false, err
	}

	created := existing == nil
	merged := r
	if existing != nil {
		for _, sid := range r.Evidence {
			existing.AddEvidence(sid)
		}
		if r.Confidence > existing.Confidence {
			existing.Confidence = r.Confidence
		}
		merged = existing
	}

	if err := s.putEdgePair(ctx, merged); err != nil {
		return false, err
	}
	return created, nil
}

// putEdgePair writes the authoritative OUT item and its IN mirror in one
// transaction, with exactly the state passed in.
func (s *Store) putEdgePair(ctx context.Context, r *domain.Relationship) error {
	outItem, err := attributevalue.MarshalMap(edgeItem{
		PK:         conceptPK(r.FromID),
		SK:         outEdgeSK(r.Type, r.ToID),
		GSI1PK:     fmt.Sprintf("ONT#%s#EDGES", r.Ontology),
		GSI1SK:     fmt.Sprintf("TYPE#%s#%s#%s", r.Type, r.FromID, r.ToID),
		EntityKind: "edge",
		FromID:     r.FromID,
		ToID:       r.ToID,
		EdgeType:   r.Type,
		Ontology:   r.Ontology,
		Confidence: r.Confidence,
		Evidence:   r.Evidence,
		CreatedAt:  fmtTime(r.CreatedAt),
	})
	if err != nil {
		return kgerrors.Wrap(err, "putEdgePair")
	}
	inItem, err := attributevalue.MarshalMap(edgeItem{
		PK:         conceptPK(r.ToID),
		SK:         inEdgeSK(r.Type, r.FromID),
		EntityKind: "edge_mirror",
		FromID:     r.FromID,
		ToID:       r.ToID,
		EdgeType:   r.Type,
		Ontology:   r.Ontology,
		Confidence: r.Confidence,
		Evidence:   r.Evidence,
		CreatedAt:  fmtTime(r.CreatedAt),
	})
	if err != nil {
		return kgerrors.Wrap(err, "putEdgePair")
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{Put: &ddbtypes.Put{TableName: aws.String(s.table), Item: outItem}},
			{Put: &ddbtypes.Put{TableName: aws.String(s.table), Item: inItem}},
		},
	})
	return classify(err, "putEdgePair")
}

func (s *Store) getEdge(ctx context.Context, fromID, toID, typ string) (*domain.Relationship, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: conceptPK(fromID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: outEdgeSK(typ, toID)},
		},
	})
	if err != nil {
		return nil, classify(err, "getEdge")
	}
	if out.Item == nil {
		return nil, kgerrors.NotFound("relationship", fromID+"->"+toID)
	}
	return unmarshalEdge(out.Item)
}

func (s *Store) Neighbors(ctx context.Context, ids []string, ontology string) ([]domain.Adjacency, error) {
	results := make([][]domain.Adjacency, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(neighborFanout)
	for i, id := range ids {
		g.Go(func() error {
			adj, err := s.neighborsOf(gctx, id, ontology)
			if err != nil {
				return err
			}
			results[i] = adj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.Adjacency
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (s *Store) neighborsOf(ctx context.Context, id, ontology string) ([]domain.Adjacency, error) {
	var out []domain.Adjacency
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: conceptPK(id)},
				":sk": &ddbtypes.AttributeValueMemberS{Value: "EDGE#"},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "Neighbors")
		}
		for _, item := range resp.Items {
			var ei edgeItem
			if err := attributevalue.UnmarshalMap(item, &ei); err != nil {
				return nil, kgerrors.Wrap(err, "Neighbors")
			}
			if ontology != "" && ei.Ontology != ontology {
				continue
			}
			neighbor := ei.ToID
			if neighbor == id {
				neighbor = ei.FromID
			}
			out = append(out, domain.Adjacency{
				SeedID:     id,
				NeighborID: neighbor,
				FromID:     ei.FromID,
				ToID:       ei.ToID,
				Type:       ei.EdgeType,
				Confidence: ei.Confidence,
			})
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

func (s *Store) EdgesOf(ctx context.Context, id string) ([]*domain.Relationship, error) {
	adj, err := s.neighborsOf(ctx, id, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(adj))
	out := make([]*domain.Relationship, 0, len(adj))
	for _, a := range adj {
		key := a.FromID + "|" + a.ToID + "|" + a.Type
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		r, err := s.getEdge(ctx, a.FromID, a.ToID, a.Type)
		if err != nil {
			if kgerrors.IsKind(err, kgerrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) EdgesByType(ctx context.Context, ontology, typeName string) ([]*domain.Relationship, error) {
	if ontology != "" {
		return s.edgesByTypeInOntology(ctx, ontology, typeName)
	}
	// Vocabulary operations span ontologies; walk them all.
	infos, err := s.ListOntologies(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.Relationship
	for _, info := range infos {
		edges, err := s.edgesByTypeInOntology(ctx, info.Name, typeName)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

func (s *Store) edgesByTypeInOntology(ctx context.Context, ontology, typeName string) ([]*domain.Relationship, error) {
	return s.queryEdgesGSI1(ctx, ontology, fmt.Sprintf("TYPE#%s#", typeName))
}

func (s *Store) edgesInOntology(ctx context.Context, ontology string) ([]*domain.Relationship, error) {
	return s.queryEdgesGSI1(ctx, ontology, "TYPE#")
}

func (s *Store) queryEdgesGSI1(ctx context.Context, ontology, skPrefix string) ([]*domain.Relationship, error) {
	var out []*domain.Relationship
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(gsi1Name),
			KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :sk)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("ONT#%s#EDGES", ontology)},
				":sk": &ddbtypes.AttributeValueMemberS{Value: skPrefix},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "queryEdgesGSI1")
		}
		for _, item := range resp.Items {
			r, err := unmarshalEdge(item)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

func (s *Store) EdgeTypeCounts(ctx context.Context, ontology string) (map[string]int, error) {
	counts := make(map[string]int)
	tally := func(ont string) error {
		var start map[string]ddbtypes.AttributeValue
		for {
			resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
				TableName:              aws.String(s.table),
				IndexName:              aws.String(gsi1Name),
				KeyConditionExpression: aws.String("GSI1PK = :pk"),
				ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
					":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("ONT#%s#EDGES", ont)},
				},
				ProjectionExpression: aws.String("EdgeType"),
				ExclusiveStartKey:    start,
			})
			if err != nil {
				return classify(err, "EdgeTypeCounts")
			}
			for _, item := range resp.Items {
				var ei edgeItem
				if err := attributevalue.UnmarshalMap(item, &ei); err != nil {
					return kgerrors.Wrap(err, "EdgeTypeCounts")
				}
				counts[ei.EdgeType]++
			}
			if resp.LastEvaluatedKey == nil {
				return nil
			}
			start = resp.LastEvaluatedKey
		}
	}

	if ontology != "" {
		return counts, tally(ontology)
	}
	infos, err := s.ListOntologies(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if err := tally(info.Name); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// RetypeEdges rewrites every edge of fromType as toType, merging evidence
// where the target edge already exists. Runs ontology by ontology.
func (s *Store) RetypeEdges(ctx context.Context, fromType, toType string) (int, error) {
	if err := store.RequireWriteIntent(ctx, "RetypeEdges"); err != nil {
		return 0, err
	}
	edges, err := s.EdgesByType(ctx, "", fromType)
	if err != nil {
		return 0, err
	}
	for _, r := range edges {
		old := *r
		r.Type = toType
		if _, err := s.PutRelationship(ctx, r); err != nil {
			return 0, err
		}
		if err := s.deleteEdge(ctx, &old); err != nil {
			return 0, err
		}
	}
	return len(edges), nil
}

func (s *Store) deleteEdge(ctx context.Context, r *domain.Relationship) error {
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{Delete: &ddbtypes.Delete{
				TableName: aws.String(s.table),
				Key: map[string]ddbtypes.AttributeValue{
					"PK": &ddbtypes.AttributeValueMemberS{Value: conceptPK(r.FromID)},
					"SK": &ddbtypes.AttributeValueMemberS{Value: outEdgeSK(r.Type, r.ToID)},
				},
			}},
			{Delete: &ddbtypes.Delete{
				TableName: aws.String(s.table),
				Key: map[string]ddbtypes.AttributeValue{
					"PK": &ddbtypes.AttributeValueMemberS{Value: conceptPK(r.ToID)},
					"SK": &ddbtypes.AttributeValueMemberS{Value: inEdgeSK(r.Type, r.FromID)},
				},
			}},
		},
	})
	return classify(err, "deleteEdge")
}

// ---- documents ----

func (s *Store) PutDocument(ctx context.Context, d *domain.Document) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutDocument"); err != nil {
		return false, err
	}
	item, err := attributevalue.MarshalMap(documentItem{
		PK:          docPK(d.ID),
		SK:          skMeta,
		GSI1PK:      fmt.Sprintf("ONT#%s#DOCS", d.Ontology),
		GSI1SK:      fmt.Sprintf("%s#%s", fmtTime(d.IngestedAt), d.ID),
		GSI2PK:      fmt.Sprintf("DOCHASH#%s", d.ContentHash),
		GSI2SK:      "DOC",
		EntityKind:  "document",
		DocumentID:  d.ID,
		ContentHash: d.ContentHash,
		Ontology:    d.Ontology,
		Filename:    d.Filename,
		ContentType: string(d.ContentType),
		MimeType:    d.MimeType,
		SizeBytes:   d.SizeBytes,
		ObjectKey:   d.ObjectKey,
		SourceURL:   d.SourceURL,
		IngestedAt:  fmtTime(d.IngestedAt),
	})
	if err != nil {
		return false, kgerrors.Wrap(err, "PutDocument")
	}
	return s.conditionalPut(ctx, item, "PutDocument")
}

func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       metaKey(docPK(id)),
	})
	if err != nil {
		return nil, classify(err, "GetDocument")
	}
	if out.Item == nil {
		return nil, kgerrors.NotFound("document", id)
	}
	return unmarshalDocument(out.Item)
}

func (s *Store) FindDocumentByHash(ctx context.Context, contentHash string) (*domain.Document, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(gsi2Name),
		KeyConditionExpression: aws.String("GSI2PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("DOCHASH#%s", contentHash)},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, classify(err, "FindDocumentByHash")
	}
	if len(resp.Items) == 0 {
		return nil, kgerrors.NotFound("document", contentHash)
	}
	return unmarshalDocument(resp.Items[0])
}

func (s *Store) ListDocuments(ctx context.Context, ontology string) ([]*domain.Document, error) {
	var out []*domain.Document
	if ontology == "" {
		err := s.scanKind(ctx, "document", func(item map[string]ddbtypes.AttributeValue) (bool, error) {
			d, err := unmarshalDocument(item)
			if err != nil {
				return false, err
			}
			out = append(out, d)
			return true, nil
		})
		return out, err
	}

	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(gsi1Name),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("ONT#%s#DOCS", ontology)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "ListDocuments")
		}
		for _, item := range resp.Items {
			d, err := unmarshalDocument(item)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

// DeleteDocument removes a document, its sources, and their instances, and
// scrubs the lost source ids from edge evidence in the same ontology. The
// document's chunk GSI locates sources in one query; instances have no
// source-keyed index, so they fall out of a kind scan.
func (s *Store) DeleteDocument(ctx context.Context, id string) (store.DocumentCounts, error) {
	var counts store.DocumentCounts
	if err := store.RequireWriteIntent(ctx, "DeleteDocument"); err != nil {
		return counts, err
	}
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return counts, err
	}

	doomed := make(map[string]struct{})
	var keys []map[string]ddbtypes.AttributeValue
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(gsi2Name),
			KeyConditionExpression: aws.String("GSI2PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("DOC#%s", id)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return counts, classify(err, "DeleteDocument")
		}
		for _, item := range resp.Items {
			doomed[stringAttr(item, "SourceID")] = struct{}{}
			keys = append(keys, metaKey(sourcePK(stringAttr(item, "SourceID"))))
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		start = resp.LastEvaluatedKey
	}
	counts.Sources = len(doomed)

	if len(doomed) > 0 {
		err = s.scanKind(ctx, "instance", func(item map[string]ddbtypes.AttributeValue) (bool, error) {
			if _, gone := doomed[stringAttr(item, "SourceID")]; gone {
				counts.Instances++
				keys = append(keys, keyOf(item))
			}
			return true, nil
		})
		if err != nil {
			return counts, err
		}

		edges, err := s.edgesInOntology(ctx, doc.Ontology)
		if err != nil {
			return counts, err
		}
		for _, r := range edges {
			kept := r.Evidence[:0]
			for _, sid := range r.Evidence {
				if _, gone := doomed[sid]; !gone {
					kept = append(kept, sid)
				}
			}
			if len(kept) == len(r.Evidence) {
				continue
			}
			if len(kept) == 0 {
				if err := s.deleteEdge(ctx, r); err != nil {
					return counts, err
				}
				counts.EdgesDeleted++
				continue
			}
			r.Evidence = kept
			if err := s.putEdgePair(ctx, r); err != nil {
				return counts, err
			}
			counts.EdgesTrimmed++
		}
	}

	keys = append(keys, metaKey(docPK(id)))
	for _, batch := range chunkKeys(keys, 25) { // BatchWriteItem limit
		requests := make([]ddbtypes.WriteRequest, len(batch))
		for i, key := range batch {
			requests[i] = ddbtypes.WriteRequest{DeleteRequest: &ddbtypes.DeleteRequest{Key: key}}
		}
		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]ddbtypes.WriteRequest{s.table: requests},
		}
		for {
			resp, err := s.client.BatchWriteItem(ctx, input)
			if err != nil {
				return counts, classify(err, "DeleteDocument")
			}
			if len(resp.UnprocessedItems) == 0 {
				break
			}
			input.RequestItems = resp.UnprocessedItems
		}
	}
	return counts, nil
}

// ---- vocabulary ----

func (s *Store) PutVocabularyType(ctx context.Context, t *domain.VocabularyType) error {
	if err := store.RequireWriteIntent(ctx, "PutVocabularyType"); err != nil {
		return err
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return kgerrors.Wrap(err, "PutVocabularyType")
	}
	item, err := attributevalue.MarshalMap(vocabItem{
		PK:         "VOCAB",
		SK:         fmt.Sprintf("TYPE#%s", t.Name),
		EntityKind: "vocab",
		Doc:        string(doc),
	})
	if err != nil {
		return kgerrors.Wrap(err, "PutVocabularyType")
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return classify(err, "PutVocabularyType")
}

func (s *Store) ListVocabulary(ctx context.Context) ([]*domain.VocabularyType, error) {
	var out []*domain.VocabularyType
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: "VOCAB"},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "ListVocabulary")
		}
		for _, item := range resp.Items {
			var vi vocabItem
			if err := attributevalue.UnmarshalMap(item, &vi); err != nil {
				return nil, kgerrors.Wrap(err, "ListVocabulary")
			}
			var t domain.VocabularyType
			if err := json.Unmarshal([]byte(vi.Doc), &t); err != nil {
				return nil, kgerrors.Wrap(err, "ListVocabulary")
			}
			out = append(out, &t)
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

// ---- jobs ----

func (s *Store) PutJob(ctx context.Context, j *domain.Job) error {
	if err := store.RequireWriteIntent(ctx, "PutJob"); err != nil {
		return err
	}
	doc, err := json.Marshal(j)
	if err != nil {
		return kgerrors.Wrap(err, "PutJob")
	}
	ji := jobItem{
		PK:          jobPK(j.ID),
		SK:          skMeta,
		GSI1PK:      "JOBS",
		GSI1SK:      fmt.Sprintf("%s#%s", fmtTime(j.SubmittedAt), j.ID),
		EntityKind:  "job",
		JobID:       j.ID,
		Status:      string(j.Status),
		JobType:     string(j.Type),
		Ontology:    j.Ontology,
		ContentHash: j.ContentHash,
		SubmittedAt: fmtTime(j.SubmittedAt),
		Doc:         string(doc),
	}
	if j.ContentHash != "" {
		ji.GSI2PK = fmt.Sprintf("JOBHASH#%s", j.ContentHash)
		ji.GSI2SK = fmtTime(j.SubmittedAt)
	}
	item, err := attributevalue.MarshalMap(ji)
	if err != nil {
		return kgerrors.Wrap(err, "PutJob")
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return classify(err, "PutJob")
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       metaKey(jobPK(id)),
	})
	if err != nil {
		return nil, classify(err, "GetJob")
	}
	if out.Item == nil {
		return nil, kgerrors.NotFound("job", id)
	}
	return unmarshalJob(out.Item)
}

func (s *Store) ListJobs(ctx context.Context, f store.JobFilter) ([]*domain.Job, error) {
	// Jobs are admin-scale; query the JOBS partition newest-first and filter
	// client-side.
	wanted := make(map[domain.JobStatus]struct{}, len(f.Statuses))
	for _, st := range f.Statuses {
		wanted[st] = struct{}{}
	}

	var out []*domain.Job
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(gsi1Name),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: "JOBS"},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "ListJobs")
		}
		for _, item := range resp.Items {
			j, err := unmarshalJob(item)
			if err != nil {
				return nil, err
			}
			if len(wanted) > 0 {
				if _, ok := wanted[j.Status]; !ok {
					continue
				}
			}
			if f.Ontology != "" && j.Ontology != f.Ontology {
				continue
			}
			if f.Type != "" && j.Type != f.Type {
				continue
			}
			if !f.Since.IsZero() && j.SubmittedAt.Before(f.Since) {
				continue
			}
			out = append(out, j)
			if f.Limit > 0 && len(out) == f.Limit {
				return out, nil
			}
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if err := store.RequireWriteIntent(ctx, "DeleteJob"); err != nil {
		return err
	}
	resp, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          metaKey(jobPK(id)),
		ReturnValues: ddbtypes.ReturnValueAllOld,
	})
	if err != nil {
		return classify(err, "DeleteJob")
	}
	if resp.Attributes == nil {
		return kgerrors.NotFound("job", id)
	}
	return nil
}

func (s *Store) FindJobByContentHash(ctx context.Context, hash string) (*domain.Job, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(gsi2Name),
		KeyConditionExpression: aws.String("GSI2PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("JOBHASH#%s", hash)},
		},
		ScanIndexForward: aws.Bool(false), // newest first
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, classify(err, "FindJobByContentHash")
	}
	if len(resp.Items) == 0 {
		return nil, kgerrors.NotFound("job", hash)
	}
	return unmarshalJob(resp.Items[0])
}

// ---- model configs ----

func cfgPK(id string) string { return "MODELCFG#" + id }

func (s *Store) PutModelConfig(ctx context.Context, c *domain.ModelConfig) error {
	if err := store.RequireWriteIntent(ctx, "PutModelConfig"); err != nil {
		return err
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return kgerrors.Wrap(err, "PutModelConfig")
	}
	item, err := attributevalue.MarshalMap(modelConfigItem{
		PK:         cfgPK(c.ID),
		SK:         skMeta,
		GSI1PK:     fmt.Sprintf("MODELCFG#KIND#%s", c.Kind),
		GSI1SK:     c.ID,
		EntityKind: "model_config",
		Kind:       string(c.Kind),
		Active:     c.Active,
		Doc:        string(doc),
	})
	if err != nil {
		return kgerrors.Wrap(err, "PutModelConfig")
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return classify(err, "PutModelConfig")
}

func (s *Store) GetModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       metaKey(cfgPK(id)),
	})
	if err != nil {
		return nil, classify(err, "GetModelConfig")
	}
	if out.Item == nil {
		return nil, kgerrors.NotFound("model config", id)
	}
	return unmarshalModelConfig(out.Item)
}

func (s *Store) ListModelConfigs(ctx context.Context, kind domain.ModelConfigKind) ([]*domain.ModelConfig, error) {
	var out []*domain.ModelConfig
	if kind == "" {
		err := s.scanKind(ctx, "model_config", func(item map[string]ddbtypes.AttributeValue) (bool, error) {
			c, err := unmarshalModelConfig(item)
			if err != nil {
				return false, err
			}
			out = append(out, c)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}

	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(gsi1Name),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("MODELCFG#KIND#%s", kind)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify(err, "ListModelConfigs")
		}
		for _, item := range resp.Items {
			c, err := unmarshalModelConfig(item)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

func (s *Store) ActivateModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error) {
	if err := store.RequireWriteIntent(ctx, "ActivateModelConfig"); err != nil {
		return nil, err
	}
	target, err := s.GetModelConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	siblings, err := s.ListModelConfigs(ctx, target.Kind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, sib := range siblings {
		if sib.ID == id || !sib.Active {
			continue
		}
		sib.Active = false
		sib.UpdatedAt = now
		if err := s.PutModelConfig(ctx, sib); err != nil {
			return nil, err
		}
	}
	target.Active = true
	target.UpdatedAt = now
	if err := s.PutModelConfig(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

func (s *Store) DeleteModelConfig(ctx context.Context, id string) error {
	if err := store.RequireWriteIntent(ctx, "DeleteModelConfig"); err != nil {
		return err
	}
	resp, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          metaKey(cfgPK(id)),
		ReturnValues: ddbtypes.ReturnValueAllOld,
	})
	if err != nil {
		return classify(err, "DeleteModelConfig")
	}
	if resp.Attributes == nil {
		return kgerrors.NotFound("model config", id)
	}
	return nil
}

func unmarshalModelConfig(item map[string]ddbtypes.AttributeValue) (*domain.ModelConfig, error) {
	var mi modelConfigItem
	if err := attributevalue.UnmarshalMap(item, &mi); err != nil {
		return nil, kgerrors.Wrap(err, "unmarshalModelConfig")
	}
	var c domain.ModelConfig
	if err := json.Unmarshal([]byte(mi.Doc), &c); err != nil {
		return nil, kgerrors.Wrap(err, "unmarshalModelConfig")
	}
	return &c, nil
}

// ---- ontologies ----

func (s *Store) ListOntologies(ctx context.Context) ([]domain.OntologyInfo, error) {
	// Tally by paging every entity kind. Admin-scale; a registry item per
	// ontology would save the scan but complicate every write path.
	infos := make(map[string]*domain.OntologyInfo)
	get := func(name string) *domain.OntologyInfo {
		if name == "" {
			name = "default"
		}
		if info, ok := infos[name]; ok {
			return info
		}
		info := &domain.OntologyInfo{Name: name}
		infos[name] = info
		return info
	}

	// Instances carry no ontology attribute; tally them after the scan once
	// the concept-to-ontology map is complete.
	conceptOnt := make(map[string]string)
	var instanceConcepts []string
	err := s.scanAll(ctx, func(item map[string]ddbtypes.AttributeValue) (bool, error) {
		kind := stringAttr(item, "EntityKind")
		ont := stringAttr(item, "Ontology")
		switch kind {
		case "concept":
			get(ont).Concepts++
			conceptOnt[stringAttr(item, "ConceptID")] = ont
		case "source":
			get(ont).Sources++
		case "edge":
			get(ont).Relationships++
		case "document":
			get(ont).Documents++
		case "instance":
			instanceConcepts = append(instanceConcepts, stringAttr(item, "ConceptID"))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	for _, cid := range instanceConcepts {
		if ont, ok := conceptOnt[cid]; ok {
			get(ont).Instances++
		}
	}

	out := make([]domain.OntologyInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) RenameOntology(ctx context.Context, oldName, newName string) error {
	if err := store.RequireWriteIntent(ctx, "RenameOntology"); err != nil {
		return err
	}
	existing, err := s.ListConcepts(ctx, newName, 1, 0)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return kgerrors.Conflict("ontology %q already exists", newName)
	}

	renamed := 0
	err = s.scanAll(ctx, func(item map[string]ddbtypes.AttributeValue) (bool, error) {
		if stringAttr(item, "Ontology") != oldName {
			return true, nil
		}
		rewritten := rewriteOntologyKeys(item, oldName, newName)
		if _, perr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      rewritten,
		}); perr != nil {
			return false, classify(perr, "RenameOntology")
		}
		renamed++
		return true, nil
	})
	if err != nil {
		return err
	}
	if renamed == 0 {
		return kgerrors.NotFound("ontology", oldName)
	}
	return nil
}

func (s *Store) DeleteOntology(ctx context.Context, name string) (store.OntologyCounts, error) {
	var counts store.OntologyCounts
	if err := store.RequireWriteIntent(ctx, "DeleteOntology"); err != nil {
		return counts, err
	}
	conceptIDs := make(map[string]struct{})

	var doomed []map[string]ddbtypes.AttributeValue
	err := s.scanAll(ctx, func(item map[string]ddbtypes.AttributeValue) (bool, error) {
		kind := stringAttr(item, "EntityKind")
		if stringAttr(item, "Ontology") == name {
			switch kind {
			case "concept":
				counts.Concepts++
				conceptIDs[stringAttr(item, "ConceptID")] = struct{}{}
			case "source":
				counts.Sources++
			case "edge":
				counts.Relationships++
			case "document":
				counts.Documents++
			}
			doomed = append(doomed, keyOf(item))
			return true, nil
		}
		// Instances and edge mirrors hang off the concept partition.
		if kind == "instance" || kind == "edge_mirror" {
			if _, ok := conceptIDs[strings.TrimPrefix(stringAttr(item, "PK"), "CONCEPT#")]; ok {
				if kind == "instance" {
					counts.Instances++
				}
				doomed = append(doomed, keyOf(item))
			}
		}
		return true, nil
	})
	if err != nil {
		return counts, err
	}

	for _, batch := range chunkKeys(doomed, 25) { // BatchWriteItem limit
		requests := make([]ddbtypes.WriteRequest, len(batch))
		for i, key := range batch {
			requests[i] = ddbtypes.WriteRequest{DeleteRequest: &ddbtypes.DeleteRequest{Key: key}}
		}
		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]ddbtypes.WriteRequest{s.table: requests},
		}
		for {
			resp, err := s.client.BatchWriteItem(ctx, input)
			if err != nil {
				return counts, classify(err, "DeleteOntology")
			}
			if len(resp.UnprocessedItems) == 0 {
				break
			}
			input.RequestItems = resp.UnprocessedItems
		}
	}
	return counts, nil
}

func (s *Store) Stats(ctx context.Context, ontology string) (*domain.GraphStats, error) {
	stats := &domain.GraphStats{EdgeTypes: make(map[string]int)}
	ontologies := make(map[string]struct{})
	conceptIDs := make(map[string]struct{})
	var instanceConcepts []string

	err := s.scanAll(ctx, func(item map[string]ddbtypes.AttributeValue) (bool, error) {
		kind := stringAttr(item, "EntityKind")
		ont := stringAttr(item, "Ontology")
		inScope := ontology == "" || ont == ontology
		switch kind {
		case "concept":
			if inScope {
				stats.Concepts++
				conceptIDs[stringAttr(item, "ConceptID")] = struct{}{}
			}
			ontologies[ont] = struct{}{}
		case "source":
			if inScope {
				stats.Sources++
			}
		case "edge":
			if inScope {
				stats.Relationships++
				stats.EdgeTypes[stringAttr(item, "EdgeType")]++
			}
		case "document":
			if inScope {
				stats.Documents++
			}
		case "instance":
			instanceConcepts = append(instanceConcepts, stringAttr(item, "ConceptID"))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	for _, cid := range instanceConcepts {
		if ontology == "" {
			stats.Instances++
		} else if _, ok := conceptIDs[cid]; ok {
			stats.Instances++
		}
	}
	stats.Ontologies = len(ontologies)
	return stats, nil
}

// ---- shared plumbing ----

func conceptPK(id string) string { return "CONCEPT#" + id }
func sourcePK(id string) string  { return "SOURCE#" + id }
func docPK(id string) string     { return "DOC#" + id }
func jobPK(id string) string     { return "JOB#" + id }

func metaKey(pk string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"PK": &ddbtypes.AttributeValueMemberS{Value: pk},
		"SK": &ddbtypes.AttributeValueMemberS{Value: skMeta},
	}
}

func keyOf(item map[string]ddbtypes.AttributeValue) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{"PK": item["PK"], "SK": item["SK"]}
}

func stringAttr(item map[string]ddbtypes.AttributeValue, name string) string {
	if av, ok := item[name].(*ddbtypes.AttributeValueMemberS); ok {
		return av.Value
	}
	return ""
}

// conditionalPut creates the item unless its PK already exists.
func (s *Store) conditionalPut(ctx context.Context, item map[string]ddbtypes.AttributeValue, op string) (bool, error) {
	cond := expression.Name("PK").AttributeNotExists()
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return false, kgerrors.Wrap(err, op)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, classify(err, op)
	}
	return true, nil
}

// scanKind pages a filtered scan over one entity kind.
func (s *Store) scanKind(ctx context.Context, kind string, fn func(map[string]ddbtypes.AttributeValue) (bool, error)) error {
	filt := expression.Name("EntityKind").Equal(expression.Value(kind))
	expr, err := expression.NewBuilder().WithFilter(filt).Build()
	if err != nil {
		return kgerrors.Wrap(err, "scan")
	}
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return classify(err, "scan")
		}
		for _, item := range resp.Items {
			cont, err := fn(item)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		if resp.LastEvaluatedKey == nil {
			return nil
		}
		start = resp.LastEvaluatedKey
	}
}

func (s *Store) scanAll(ctx context.Context, fn func(map[string]ddbtypes.AttributeValue) (bool, error)) error {
	var start map[string]ddbtypes.AttributeValue
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return classify(err, "scan")
		}
		for _, item := range resp.Items {
			cont, err := fn(item)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		if resp.LastEvaluatedKey == nil {
			return nil
		}
		start = resp.LastEvaluatedKey
	}
}

func rewriteOntologyKeys(item map[string]ddbtypes.AttributeValue, oldName, newName string) map[string]ddbtypes.AttributeValue {
	out := make(map[string]ddbtypes.AttributeValue, len(item))
	oldPrefix := fmt.Sprintf("ONT#%s#", oldName)
	newPrefix := fmt.Sprintf("ONT#%s#", newName)
	for k, v := range item {
		if sv, ok := v.(*ddbtypes.AttributeValueMemberS); ok {
			switch {
			case k == "Ontology" && sv.Value == oldName:
				out[k] = &ddbtypes.AttributeValueMemberS{Value: newName}
				continue
			case strings.HasPrefix(sv.Value, oldPrefix):
				out[k] = &ddbtypes.AttributeValueMemberS{Value: newPrefix + strings.TrimPrefix(sv.Value, oldPrefix)}
				continue
			}
		}
		out[k] = v
	}
	return out
}

func unmarshalConcept(item map[string]ddbtypes.AttributeValue) (*domain.Concept, error) {
	var ci conceptItem
	if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
		return nil, kgerrors.Wrap(err, "unmarshalConcept")
	}
	return &domain.Concept{
		ID:          ci.ConceptID,
		Label:       ci.Label,
		Description: ci.Description,
		SearchTerms: ci.SearchTerms,
		Embedding:   decodeVec(ci.Embedding),
		Ontology:    ci.Ontology,
		CreatedAt:   parseTime(ci.CreatedAt),
	}, nil
}

func unmarshalEdge(item map[string]ddbtypes.AttributeValue) (*domain.Relationship, error) {
	var ei edgeItem
	if err := attributevalue.UnmarshalMap(item, &ei); err != nil {
		return nil, kgerrors.Wrap(err, "unmarshalEdge")
	}
	return &domain.Relationship{
		FromID:     ei.FromID,
		ToID:       ei.ToID,
		Type:       ei.EdgeType,
		Ontology:   ei.Ontology,
		Confidence: ei.Confidence,
		Evidence:   ei.Evidence,
		CreatedAt:  parseTime(ei.CreatedAt),
	}, nil
}

func unmarshalDocument(item map[string]ddbtypes.AttributeValue) (*domain.Document, error) {
	var di documentItem
	if err := attributevalue.UnmarshalMap(item, &di); err != nil {
		return nil, kgerrors.Wrap(err, "unmarshalDocument")
	}
	return &domain.Document{
		ID:          di.DocumentID,
		ContentHash: di.ContentHash,
		Filename:    di.Filename,
		Ontology:    di.Ontology,
		ContentType: domain.ContentType(di.ContentType),
		MimeType:    di.MimeType,
		SizeBytes:   di.SizeBytes,
		ObjectKey:   di.ObjectKey,
		SourceURL:   di.SourceURL,
		IngestedAt:  parseTime(di.IngestedAt),
	}, nil
}

func unmarshalJob(item map[string]ddbtypes.AttributeValue) (*domain.Job, error) {
	var ji jobItem
	if err := attributevalue.UnmarshalMap(item, &ji); err != nil {
		return nil, kgerrors.Wrap(err, "unmarshalJob")
	}
	var j domain.Job
	if err := json.Unmarshal([]byte(ji.Doc), &j); err != nil {
		return nil, kgerrors.Wrap(err, "unmarshalJob")
	}
	return &j, nil
}

// classify maps SDK failures onto the engine's error kinds. Throttling and
// capacity errors are retryable provider-side conditions.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException",
			"RequestLimitExceeded", "InternalServerError":
			e := kgerrors.New(kgerrors.KindProvider, "dynamodb: %s", apiErr.ErrorMessage())
			e.Retryable = true
			return e.WithOp(op).WithCause(err)
		case "ResourceNotFoundException":
			return kgerrors.Internal(err, "dynamodb table missing").WithOp(op)
		}
	}
	return kgerrors.Wrap(err, op)
}

func encodeVec(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVec(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func chunkStrings(ss []string, size int) [][]string {
	var out [][]string
	for len(ss) > size {
		out = append(out, ss[:size])
		ss = ss[size:]
	}
	if len(ss) > 0 {
		out = append(out, ss)
	}
	return out
}

func chunkKeys(keys []map[string]ddbtypes.AttributeValue, size int) [][]map[string]ddbtypes.AttributeValue {
	var out [][]map[string]ddbtypes.AttributeValue
	for len(keys) > size {
		out = append(out, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		out = append(out, keys)
	}
	return out
}
