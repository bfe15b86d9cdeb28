package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/umputun/drugwatch/lib/textclass"
	"github.com/umputun/drugwatch/lib/verdict"
)

func (s *StorageTestSuite) TestDetections_WriteRead() {
	ctx := context.Background()
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			detections, err := NewDetections(ctx, db)
			s.Require().NoError(err)
			defer db.Exec("DROP TABLE detections")

			res, err := detections.Read(ctx, 10)
			s.Require().NoError(err)
			s.Empty(res)

			triggers := []textclass.Contribution{{Token: "pills", Score: 1.1}, {Token: "now", Score: 0.69}}
			err = detections.Write(ctx, verdict.Request{Msg: "pills available now", Source: "api"},
				verdict.Response{Label: textclass.LabelIllicit, Illicit: true, Confidence: 85.71, Triggers: triggers, Generation: 3})
			s.Require().NoError(err)
			err = detections.Write(ctx, verdict.Request{Msg: "sushi in the park", Source: "console"},
				verdict.Response{Label: textclass.LabelSafe, Confidence: 80, Generation: 3})
			s.Require().NoError(err)

			res, err = detections.Read(ctx, 10)
			s.Require().NoError(err)
			s.Require().Len(res, 2)

			s.Equal("sushi in the park", res[0].Text)
			s.Equal("console", res[0].Source)
			s.Equal(textclass.LabelSafe, res[0].Label)
			s.Empty(res[0].Triggers)
			s.NotNil(res[0].Triggers)

			s.Equal("pills available now", res[1].Text)
			s.Equal(textclass.LabelIllicit, res[1].Label)
			s.InDelta(85.71, res[1].Confidence, 1e-9)
			s.Equal(int64(3), res[1].Generation)
			s.Equal(triggers, res[1].Triggers)
			s.WithinDuration(time.Now(), res[1].Timestamp, time.Minute)

			res, err = detections.Read(ctx, 1)
			s.Require().NoError(err)
			s.Len(res, 1)
		})
	}
}

func (s *StorageTestSuite) TestDetections_IsolatedByGID() {
	ctx := context.Background()
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			detections, err := NewDetections(ctx, db)
			s.Require().NoError(err)
			defer db.Exec("DROP TABLE detections")

			_, err = db.Exec(db.Adopt(`INSERT INTO detections (gid, timestamp, text, label, confidence)
				VALUES (?, ?, ?, ?, ?)`), "other", time.Now().UTC(), "foreign", 1, 99.0)
			s.Require().NoError(err)

			res, err := detections.Read(ctx, 10)
			s.Require().NoError(err)
			s.Empty(res)
		})
	}
}
