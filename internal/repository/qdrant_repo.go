package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/timmy/kbase/internal/domain"
)

const scrollPageSize = 256

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host   string
	Port   int
	APIKey string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS bool   // Explicitly enable TLS without API Key
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository handles vector operations with Qdrant. Collections are
// per-business, so every operation names its target collection.
type QdrantRepository struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
}

// NewQdrantRepository creates a new QdrantRepository
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key)
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption

	// TLS is enabled if: APIKey is set OR UseTLS is explicitly true
	useTLS := cfg.UseTLS || cfg.APIKey != ""

	if useTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		creds := credentials.NewTLS(tlsConfig)
		opts = append(opts, grpc.WithTransportCredentials(creds))

		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// CollectionExists reports whether a collection is present.
func (r *QdrantRepository) CollectionExists(ctx context.Context, collection string) (bool, error) {
	_, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: collection,
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// EnsureCollection creates the collection if it doesn't exist. An existing
// collection with a different vector size is a fatal misconfiguration.
func (r *QdrantRepository) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: collection,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(dimension) {
				return domain.NewConfigError("qdrant.EnsureCollection",
					fmt.Errorf("collection %s has vector size %d, expected %d", collection, size, dimension))
			}
		}
		return nil // Collection exists
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return domain.NewTransientError("qdrant.EnsureCollection",
			fmt.Errorf("failed to create collection %s: %w", collection, err))
	}

	return nil
}

// DropCollection removes a collection entirely.
func (r *QdrantRepository) DropCollection(ctx context.Context, collection string) error {
	_, err := r.collectClient.Delete(ctx, &pb.DeleteCollection{
		CollectionName: collection,
	})
	if err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", collection, err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}

	config := info.GetConfig()
	if config == nil {
		return 0, false
	}

	params := config.GetParams()
	if params == nil {
		return 0, false
	}

	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}

	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}

	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}

	return 0, false
}

// ChunkPayload represents the payload stored with each chunk vector
type ChunkPayload struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	BusinessID string `json:"business_id"`
	Idx        int    `json:"idx"`
	Text       string `json:"text"`
	Window     string `json:"window"`
}

// VectorPoint bundles one chunk vector with its payload for upsert.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload *ChunkPayload
}

// UpsertPoints inserts or overwrites chunk vectors in a collection. Point ids
// are deterministic per chunk, so retries overwrite instead of duplicating.
func (r *QdrantRepository) UpsertPoints(ctx context.Context, collection string, points []VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	pbPoints := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		uid, err := uuid.Parse(p.ID)
		if err != nil {
			return fmt.Errorf("invalid point ID %q: %w", p.ID, err)
		}
		pbPoints = append(pbPoints, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: uid.String(),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{
						Data: p.Vector,
					},
				},
			},
			Payload: map[string]*pb.Value{
				"chunk_id":    {Kind: &pb.Value_StringValue{StringValue: p.Payload.ChunkID}},
				"document_id": {Kind: &pb.Value_StringValue{StringValue: p.Payload.DocumentID}},
				"business_id": {Kind: &pb.Value_StringValue{StringValue: p.Payload.BusinessID}},
				"idx":         {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.Payload.Idx)}},
				"text":        {Kind: &pb.Value_StringValue{StringValue: p.Payload.Text}},
				"window":      {Kind: &pb.Value_StringValue{StringValue: p.Payload.Window}},
			},
		})
	}

	wait := true
	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         pbPoints,
	})
	if err != nil {
		return domain.NewTransientError("qdrant.UpsertPoints",
			fmt.Errorf("failed to upsert %d points into %s: %w", len(points), collection, err))
	}

	return nil
}

// SearchResult represents a search result from Qdrant
type SearchResult struct {
	ID      string
	Score   float32
	Payload *ChunkPayload
}

// Search performs a vector similarity search in one collection.
func (r *QdrantRepository) Search(ctx context.Context, collection string, vector []float32, topK int, filter *SearchFilter) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	if filter != nil {
		req.Filter = buildFilter(filter)
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, domain.NewTransientError("qdrant.Search",
			fmt.Errorf("failed to search %s: %w", collection, err))
	}

	results := make([]SearchResult, len(resp.Result))
	for i, scored := range resp.Result {
		results[i] = SearchResult{
			ID:      scored.Id.GetUuid(),
			Score:   scored.Score,
			Payload: parsePayload(scored.Payload),
		}
	}

	return results, nil
}

// SearchFilter defines optional filters for search
type SearchFilter struct {
	DocumentID *string
}

func buildFilter(filter *SearchFilter) *pb.Filter {
	var conditions []*pb.Condition

	if filter.DocumentID != nil && *filter.DocumentID != "" {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "document_id",
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: *filter.DocumentID},
					},
				},
			},
		})
	}

	if len(conditions) == 0 {
		return nil
	}

	return &pb.Filter{
		Must: conditions,
	}
}

func parsePayload(payload map[string]*pb.Value) *ChunkPayload {
	if payload == nil {
		return nil
	}

	p := &ChunkPayload{}
	if v, ok := payload["chunk_id"]; ok {
		p.ChunkID = v.GetStringValue()
	}
	if v, ok := payload["document_id"]; ok {
		p.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["business_id"]; ok {
		p.BusinessID = v.GetStringValue()
	}
	if v, ok := payload["idx"]; ok {
		p.Idx = int(v.GetIntegerValue())
	}
	if v, ok := payload["text"]; ok {
		p.Text = v.GetStringValue()
	}
	if v, ok := payload["window"]; ok {
		p.Window = v.GetStringValue()
	}

	return p
}

// PointRef identifies one stored point and the document it belongs to.
type PointRef struct {
	ID         string
	DocumentID string
}

// ListPoints scrolls the full collection and returns point-to-document
// references. Used by reconciliation to compare the index against metadata.
func (r *QdrantRepository) ListPoints(ctx context.Context, collection string) ([]PointRef, error) {
	var refs []PointRef
	var offset *pb.PointId

	for {
		limit := uint32(scrollPageSize)
		resp, err := r.pointsClient.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Include{
					Include: &pb.PayloadIncludeSelector{Fields: []string{"document_id"}},
				},
			},
		})
		if err != nil {
			return nil, domain.NewTransientError("qdrant.ListPoints",
				fmt.Errorf("failed to scroll %s: %w", collection, err))
		}

		for _, point := range resp.Result {
			ref := PointRef{ID: point.Id.GetUuid()}
			if v, ok := point.Payload["document_id"]; ok {
				ref.DocumentID = v.GetStringValue()
			}
			refs = append(refs, ref)
		}

		offset = resp.NextPageOffset
		if offset == nil || len(resp.Result) == 0 {
			break
		}
	}

	return refs, nil
}

// CountPoints returns the exact number of points in a collection.
func (r *QdrantRepository) CountPoints(ctx context.Context, collection string) (int, error) {
	exact := true
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, domain.NewTransientError("qdrant.CountPoints",
			fmt.Errorf("failed to count points in %s: %w", collection, err))
	}
	return int(resp.GetResult().GetCount()), nil
}

// DeletePoints deletes points by ID from a collection.
func (r *QdrantRepository) DeletePoints(ctx context.Context, collection string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	ids := make([]*pb.PointId, 0, len(pointIDs))
	for _, pointID := range pointIDs {
		uid, err := uuid.Parse(pointID)
		if err != nil {
			return fmt.Errorf("invalid point ID %q: %w", pointID, err)
		}
		ids = append(ids, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}})
	}

	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: ids,
				},
			},
		},
	})
	if err != nil {
		return domain.NewTransientError("qdrant.DeletePoints",
			fmt.Errorf("failed to delete points from %s: %w", collection, err))
	}

	return nil
}

// DeleteByDocument deletes all points belonging to one document.
func (r *QdrantRepository) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						{
							ConditionOneOf: &pb.Condition_Field{
								Field: &pb.FieldCondition{
									Key: "document_id",
									Match: &pb.Match{
										MatchValue: &pb.Match_Keyword{Keyword: documentID},
									},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return domain.NewTransientError("qdrant.DeleteByDocument",
			fmt.Errorf("failed to delete document %s points from %s: %w", documentID, collection, err))
	}

	return nil
}
