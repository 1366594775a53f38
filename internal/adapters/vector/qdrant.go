// Package vector implements the vector store adapter of §6: upsert_point,
// get_collection_info, and scroll — adapted from the teacher's
// engine/semantic/store.go Qdrant gRPC client, generalised from a fixed
// automotive collection to an arbitrary collection name per call and
// extended with Scroll (the teacher never implemented it).
package vector

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Store is the sole owner of all Qdrant gRPC operations used by the core.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New dials Qdrant at addr over an insecure gRPC channel, mirroring the
// teacher's connection setup (no TLS material is in scope, §1 Non-goals).
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vector: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureCollection creates collection with the given vector dimensionality
// if it does not already exist.
func (s *Store) EnsureCollection(ctx context.Context, collection string, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vector: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
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
		return fmt.Errorf("vector: create collection %s: %w", collection, err)
	}
	return nil
}

// CollectionInfo is the result of get_collection_info (§6).
type CollectionInfo struct {
	Name        string
	PointsCount uint64
	VectorSize  uint64
}

// GetCollectionInfo returns metadata about a collection.
func (s *Store) GetCollectionInfo(ctx context.Context, collection string) (CollectionInfo, error) {
	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("vector: get collection info %s: %w", collection, err)
	}
	info := CollectionInfo{Name: collection}
	if result := resp.GetResult(); result != nil {
		if result.PointsCount != nil {
			info.PointsCount = result.GetPointsCount()
		}
		if cfg := result.GetConfig(); cfg != nil {
			if params := cfg.GetParams(); params != nil {
				if vp := params.GetVectorsConfig().GetParams(); vp != nil {
					info.VectorSize = vp.GetSize()
				}
			}
		}
	}
	return info, nil
}

// Point is a single vector point destined for upsert.
type Point struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// UpsertPoint writes (or overwrites, by identical id) a single point —
// §4.8's writer upsert primitive. For bulk writes use UpsertBatch.
func (s *Store) UpsertPoint(ctx context.Context, collection string, p Point) error {
	return s.UpsertBatch(ctx, collection, []Point{p})
}

// UpsertBatch writes multiple points in one call.
func (s *Store) UpsertBatch(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		pbPoints[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Embedding}}},
			Payload: toPayload(p.Payload),
		}
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         pbPoints,
	})
	if err != nil {
		return fmt.Errorf("vector: upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// DeleteByFilter removes points matching a single keyword field match —
// used for project-delete lifecycle operations (§3.6).
func (s *Store) DeleteByFilter(ctx context.Context, collection, key, value string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch(key, value)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete by %s=%s in %s: %w", key, value, collection, err)
	}
	return nil
}

// ScrollPage is one page of a Scroll call.
type ScrollPage struct {
	Points     []SearchResult
	NextCursor string // empty when there are no further pages
}

// Scroll walks a collection's points without a similarity query, for batch
// export/validation use cases (§6). cursor is the opaque offset id
// returned as NextCursor by the previous call; pass "" for the first page.
func (s *Store) Scroll(ctx context.Context, collection, cursor string, limit int) (ScrollPage, error) {
	req := &pb.ScrollPoints{
		CollectionName: collection,
		Limit:          ptrUint32(uint32(limit)),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if cursor != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: cursor}}
	}

	resp, err := s.points.Scroll(ctx, req)
	if err != nil {
		return ScrollPage{}, fmt.Errorf("vector: scroll %s: %w", collection, err)
	}

	page := ScrollPage{Points: make([]SearchResult, len(resp.GetResult()))}
	for i, r := range resp.GetResult() {
		page.Points[i] = resultFromRetrievedPoint(r)
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.NextCursor = next.GetUuid()
	}
	return page, nil
}

// SearchResult is a retrieved point, used by both Search and Scroll.
type SearchResult struct {
	ID      string
	Score   float32
	Content string
	DocID   string
	Source  string
	Meta    map[string]string
}

// Search performs k-NN similarity search, optionally filtered by metadata.
func (s *Store) Search(ctx context.Context, collection string, embedding []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, v := range filters {
			must = append(must, fieldMatch(k, v))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector: search %s: %w", collection, err)
	}

	out := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{ID: r.GetId().GetUuid(), Score: r.GetScore(), Meta: map[string]string{}}
		fillFromPayload(&sr, r.GetPayload())
		out[i] = sr
	}
	return out, nil
}

func resultFromRetrievedPoint(r *pb.RetrievedPoint) SearchResult {
	sr := SearchResult{ID: r.GetId().GetUuid(), Meta: map[string]string{}}
	fillFromPayload(&sr, r.GetPayload())
	return sr
}

func fillFromPayload(sr *SearchResult, payload map[string]*pb.Value) {
	for k, val := range payload {
		s := val.GetStringValue()
		switch k {
		case "content":
			sr.Content = s
		case "doc_id":
			sr.DocID = s
		case "source":
			sr.Source = s
		default:
			sr.Meta[k] = s
		}
	}
}

func toPayload(m map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(m))
	for k, val := range m {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func ptrUint32(v uint32) *uint32 { return &v }
