/**
 * Qdrant Glyph Index for the Alignment Verification Worker
 *
 * Stores coarse stroke-density features of verified glyph crops. Searching
 * the index turns "what character looks like this crop" into a vector query,
 * giving the correction loop a candidate source that improves as more
 * columns converge. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zupu/alignworker/internal/align"
)

// QdrantClient handles glyph index operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
}

// GlyphPoint is one indexed glyph observation
type GlyphPoint struct {
	ID       string
	Glyph    rune
	Vector   []float32
	ColumnID string
	Score    float64
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	// Stroke-density grid features, cosine similarity
	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(align.FeatureDim),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// IndexGlyph stores one verified glyph observation
func (q *QdrantClient) IndexGlyph(ctx context.Context, point *GlyphPoint) error {
	if point == nil {
		return fmt.Errorf("point is required")
	}
	if len(point.Vector) != align.FeatureDim {
		return fmt.Errorf("invalid vector dimensions: expected %d, got %d", align.FeatureDim, len(point.Vector))
	}
	if point.Glyph == 0 {
		return fmt.Errorf("glyph is required")
	}

	if point.ID == "" {
		point.ID = uuid.New().String()
	}

	payload := map[string]*qdrant.Value{
		"glyph": {
			Kind: &qdrant.Value_StringValue{StringValue: string(point.Glyph)},
		},
		"column_id": {
			Kind: &qdrant.Value_StringValue{StringValue: point.ColumnID},
		},
		"score": {
			Kind: &qdrant.Value_DoubleValue{DoubleValue: point.Score},
		},
		"timestamp": {
			Kind: &qdrant.Value_IntegerValue{IntegerValue: time.Now().Unix()},
		},
	}

	pointStruct := &qdrant.PointStruct{
		Id: &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{
				Uuid: point.ID,
			},
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{
					Data: point.Vector,
				},
			},
		},
		Payload: payload,
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         []*qdrant.PointStruct{pointStruct},
	})
	if err != nil {
		return fmt.Errorf("failed to index glyph: %w", err)
	}
	return nil
}

// SearchGlyphs finds the nearest indexed glyphs to a feature vector
func (q *QdrantClient) SearchGlyphs(ctx context.Context, queryVector []float32, limit int) ([]*GlyphPoint, error) {
	if len(queryVector) != align.FeatureDim {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", align.FeatureDim, len(queryVector))
	}
	if limit <= 0 {
		limit = 5
	}

	searchReq := &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{
				Enable: true,
			},
		},
	}

	results, err := q.client.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to search glyphs: %w", err)
	}

	points := make([]*GlyphPoint, 0, len(results.Result))
	for _, result := range results.Result {
		point := &GlyphPoint{Score: float64(result.Score)}
		if result.Id != nil {
			point.ID = result.Id.GetUuid()
		}
		if result.Payload != nil {
			if v, ok := result.Payload["glyph"]; ok {
				if s := v.GetStringValue(); s != "" {
					point.Glyph = []rune(s)[0]
				}
			}
			if v, ok := result.Payload["column_id"]; ok {
				point.ColumnID = v.GetStringValue()
			}
		}
		if point.Glyph == 0 {
			continue
		}
		points = append(points, point)
	}

	return points, nil
}

// DeleteGlyph removes an indexed observation by ID
func (q *QdrantClient) DeleteGlyph(ctx context.Context, pointID string) error {
	if pointID == "" {
		return fmt.Errorf("point ID is required")
	}

	deleteReq := &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{
						{
							PointIdOptions: &qdrant.PointId_Uuid{
								Uuid: pointID,
							},
						},
					},
				},
			},
		},
	}

	_, err := q.client.Delete(ctx, deleteReq)
	if err != nil {
		return fmt.Errorf("failed to delete glyph: %w", err)
	}
	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	stats := map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}
	return stats, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
