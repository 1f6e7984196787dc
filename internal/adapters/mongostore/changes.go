package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// Watch открывает поток изменений коллекции posts.
// С непустым resumeToken поток продолжается после подтверждённого события.
func (s *Store) Watch(ctx context.Context, resumeToken []byte) (domain.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(resumeToken) > 0 {
		opts.SetResumeAfter(bson.Raw(resumeToken))
	}
	start := time.Now()
	cs, err := s.posts.Watch(ctx, watchPipeline(), opts)
	metrics.ObserveNetworkRequest("mongo", "watch", collPosts, start, err)
	if err != nil {
		return nil, classify("watch posts", err)
	}
	return &changeStream{cs: cs}, nil
}

func watchPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{
				string(domain.ChangeInsert),
				string(domain.ChangeUpdate),
				string(domain.ChangeReplace),
				string(domain.ChangeDelete),
				string(domain.ChangeInvalidate),
				string(domain.ChangeDrop),
			}}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "operationType", Value: 1},
			{Key: "clusterTime", Value: 1},
			{Key: "fullDocument.post_id", Value: 1},
			{Key: "fullDocument.channel_id", Value: 1},
		}}},
	}
}

type changeStream struct {
	cs *mongo.ChangeStream
}

type changeDoc struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	FullDocument  *struct {
		PostID    int64 `bson:"post_id"`
		ChannelID int64 `bson:"channel_id"`
	} `bson:"fullDocument"`
}

func (d changeDoc) event() domain.ChangeEvent {
	ev := domain.ChangeEvent{Operation: domain.ChangeOperation(d.OperationType)}
	if d.ClusterTime.T > 0 {
		ev.ObservedAt = time.Unix(int64(d.ClusterTime.T), 0).UTC()
	}
	if d.FullDocument != nil {
		ev.PostID = d.FullDocument.PostID
		if d.FullDocument.ChannelID > 0 {
			channelID := d.FullDocument.ChannelID
			ev.ChannelID = &channelID
		}
	}
	return ev
}

// Next блокируется до следующего события.
func (c *changeStream) Next(ctx context.Context) (domain.ChangeEvent, error) {
	if !c.cs.Next(ctx) {
		if err := c.cs.Err(); err != nil {
			return domain.ChangeEvent{}, classify("change stream", err)
		}
		if err := ctx.Err(); err != nil {
			return domain.ChangeEvent{}, err
		}
		return domain.ChangeEvent{}, fmt.Errorf("%w: поток изменений закрыт", domain.ErrUnavailable)
	}
	var doc changeDoc
	if err := c.cs.Decode(&doc); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	ev := doc.event()
	ev.ResumeToken = append([]byte(nil), c.cs.ResumeToken()...)
	return ev, nil
}

func (c *changeStream) Close(ctx context.Context) error {
	return c.cs.Close(ctx)
}
