package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"github.com/WessleyAI/skumatch/pkg/logger"
)

const (
	skuPayloadKey = "sku"
	upsertChunk   = 256
	// overfetch widens Qdrant's limit so near-ties at the cut are re-ranked
	// by key locally.
	overfetch = 8
)

// PointsAPI is the part of pb.PointsClient the index uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// CollectionsAPI is the part of pb.CollectionsClient the index uses.
type CollectionsAPI interface {
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantBuilder creates one Qdrant collection per snapshot.
type QdrantBuilder struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	prefix      string
	log         *zap.Logger
}

// DialQdrant connects to Qdrant's gRPC port.
func DialQdrant(addr, prefix string, log *zap.Logger) (*QdrantBuilder, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	b := NewQdrantBuilder(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), prefix, log)
	b.conn = conn
	return b, nil
}

// NewQdrantBuilder wires a builder over existing clients.
func NewQdrantBuilder(points PointsAPI, collections CollectionsAPI, prefix string, log *zap.Logger) *QdrantBuilder {
	if prefix == "" {
		prefix = "skumatch_"
	}
	return &QdrantBuilder{points: points, collections: collections, prefix: prefix, log: logger.OrNop(log)}
}

// Close closes the gRPC connection opened by DialQdrant.
func (b *QdrantBuilder) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// PointID maps a sku to a stable Qdrant point id.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// viewPointID is PointID for the primary vector and a derived id for the
// record's alternates.
func viewPointID(key string, view int) string {
	if view == 0 {
		return PointID(key)
	}
	return PointID(key + "#" + strconv.Itoa(view))
}

func (b *QdrantBuilder) Build(ctx context.Context, name string, recs []Record) (Index, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("semantic: no records for %s", name)
	}
	collection := b.prefix + strings.ReplaceAll(name, "-", "")
	dims := len(recs[0].Vector)

	_, err := b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: create collection %s: %w", collection, err)
	}

	idx := &qdrantIndex{b: b, collection: collection, dims: dims, n: len(recs), views: 1}
	for _, r := range recs {
		idx.views = max(idx.views, 1+len(r.Alt))
	}
	for start := 0; start < len(recs); start += upsertChunk {
		end := min(start+upsertChunk, len(recs))
		if err := b.upsert(ctx, collection, dims, recs[start:end]); err != nil {
			// Build failed, so nothing else references the collection.
			_ = idx.Close(context.WithoutCancel(ctx))
			return nil, err
		}
	}
	b.log.Info("qdrant collection built",
		zap.String("collection", collection),
		zap.Int("records", len(recs)),
		zap.Int("dims", dims),
	)
	return idx, nil
}

func (b *QdrantBuilder) upsert(ctx context.Context, collection string, dims int, recs []Record) error {
	points := make([]*pb.PointStruct, 0, len(recs))
	for _, r := range recs {
		for view, v := range r.vectors() {
			if len(v) != dims {
				return fmt.Errorf("semantic: record %q has dimension %d, want %d", r.Key, len(v), dims)
			}
			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: viewPointID(r.Key, view)},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: v},
					},
				},
				Payload: map[string]*pb.Value{
					skuPayloadKey: {Kind: &pb.Value_StringValue{StringValue: r.Key}},
				},
			})
		}
	}
	_, err := b.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           proto.Bool(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

type qdrantIndex struct {
	b          *QdrantBuilder
	collection string
	dims       int
	n          int
	views      int
	closed     atomic.Bool
}

func (q *qdrantIndex) Len() int { return q.n }

func (q *qdrantIndex) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	if len(vec) != q.dims {
		return nil, fmt.Errorf("semantic: query dimension %d, index dimension %d", len(vec), q.dims)
	}
	resp, err := q.b.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vec,
		Limit:          uint64((k + overfetch) * q.views),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", q.collection, err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		key := r.GetPayload()[skuPayloadKey].GetStringValue()
		if key == "" {
			continue
		}
		hits = append(hits, Hit{Key: key, Score: Clamp(float64(r.GetScore()))})
	}
	return Rank(BestPerKey(hits), k), nil
}

// Close drops the collection. Only the first call does anything.
func (q *qdrantIndex) Close(ctx context.Context) error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	_, err := q.b.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		q.b.log.Warn("qdrant collection drop failed", zap.String("collection", q.collection), zap.Error(err))
		return fmt.Errorf("semantic: delete collection %s: %w", q.collection, err)
	}
	q.b.log.Info("qdrant collection dropped", zap.String("collection", q.collection))
	return nil
}
