package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// QdrantFeatureIndex stores texture feature vectors for similar-pattern
// search. The collection is created on the first write, sized to that
// vector.
type QdrantFeatureIndex struct {
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	conn        *grpc.ClientConn
	collection  string

	mu  sync.Mutex
	dim int
}

// NewQdrantFeatureIndex connects to a Qdrant gRPC endpoint.
func NewQdrantFeatureIndex(address, collection string) (*QdrantFeatureIndex, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	return &QdrantFeatureIndex{
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		conn:        conn,
		collection:  collection,
	}, nil
}

// ensureCollection creates the collection with dim dimensions if it does
// not exist yet and remembers its size.
func (q *QdrantFeatureIndex) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dim != 0 {
		if q.dim != dim {
			return fmt.Errorf("invalid vector dimensions: expected %d, got %d", q.dim, dim)
		}
		return nil
	}

	info, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: q.collection})
	if err == nil {
		if params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
			q.dim = int(params.GetSize())
			if q.dim != dim {
				return fmt.Errorf("invalid vector dimensions: collection has %d, got %d", q.dim, dim)
			}
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dim),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	q.dim = dim
	return nil
}

// PointID maps an arbitrary id onto the UUID space Qdrant accepts. Empty
// ids get a random UUID.
func PointID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

// Index upserts one vector with its payload.
func (q *QdrantFeatureIndex) Index(ctx context.Context, id string, vector []float32, payload map[string]interface{}) error {
	if len(vector) == 0 {
		return fmt.Errorf("vector is required")
	}
	if err := q.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	point := &qdrant.PointStruct{
		Id: &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(id)},
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{Data: vector},
			},
		},
		Payload: toPayload(payload),
	}
	_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

// Search returns the limit nearest indexed vectors.
func (q *QdrantFeatureIndex) Search(ctx context.Context, vector []float32, limit int) ([]models.SimilarMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if limit <= 0 {
		limit = 10
	}
	q.mu.Lock()
	dim := q.dim
	q.mu.Unlock()
	if dim != 0 && dim != len(vector) {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", dim, len(vector))
	}

	results, err := q.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	matches := make([]models.SimilarMatch, 0, len(results.GetResult()))
	for _, r := range results.GetResult() {
		payload := fromPayload(r.GetPayload())
		m := models.SimilarMatch{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
		}
		m.MaterialType, _ = payload["material_type"].(string)
		m.Source, _ = payload["source"].(string)
		matches = append(matches, m)
	}
	return matches, nil
}

func (q *QdrantFeatureIndex) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func toPayload(m map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func fromPayload(p map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}
