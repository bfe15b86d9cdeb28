package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/umputun/drugwatch/lib/textclass"
)

var trainSet = []textclass.Example{
	{Text: "buy pills cheap", Label: textclass.LabelIllicit},
	{Text: "great sushi dinner", Label: textclass.LabelSafe},
	{Text: "need pills now", Label: textclass.LabelIllicit},
	{Text: "nice sunny park", Label: textclass.LabelSafe},
}

func (s *StorageTestSuite) TestModels_SaveLatestList() {
	ctx := context.Background()
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			models, err := NewModels(ctx, db)
			s.Require().NoError(err)
			defer db.Exec("DROP TABLE models")

			_, _, err = models.Latest(ctx)
			s.ErrorIs(err, ErrNotFound)

			m1, err := textclass.Fit(trainSet[:2])
			s.Require().NoError(err)
			rep1, err := textclass.Score(m1, trainSet[:2])
			s.Require().NoError(err)
			id1, err := models.Save(ctx, m1, rep1)
			s.Require().NoError(err)

			m2, err := textclass.Fit(trainSet)
			s.Require().NoError(err)
			rep2, err := textclass.Score(m2, trainSet)
			s.Require().NoError(err)
			id2, err := models.Save(ctx, m2, rep2)
			s.Require().NoError(err)
			s.Greater(id2, id1)

			latest, info, err := models.Latest(ctx)
			s.Require().NoError(err)
			s.Equal(id2, info.ID)
			s.Equal(11, info.VocabSize)
			s.InDelta(1.0, info.Accuracy, 1e-12)
			s.Equal(rep2, info.Report)
			s.False(info.Timestamp.IsZero())
			s.Equal(m2.State(), latest.State())

			pred := latest.Predict("pills available now")
			s.True(pred.Illicit())
			s.InDelta(600.0/7, pred.Confidence, 1e-9)

			list, err := models.List(ctx, 10)
			s.Require().NoError(err)
			s.Require().Len(list, 2)
			s.Equal(id2, list[0].ID)
			s.Equal(id1, list[1].ID)
			s.Equal(rep1, list[1].Report)

			list, err = models.List(ctx, 1)
			s.Require().NoError(err)
			s.Len(list, 1)

			_, err = models.Save(ctx, nil, rep1)
			s.Error(err)
		})
	}
}

func (s *StorageTestSuite) TestModels_LatestCorrupted() {
	ctx := context.Background()
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			models, err := NewModels(ctx, db)
			s.Require().NoError(err)
			defer db.Exec("DROP TABLE models")

			_, err = db.Exec(db.Adopt(`INSERT INTO models (gid, timestamp, vocab_size, accuracy, report, state)
				VALUES (?, ?, 1, 0, '{}', ?)`), db.GID(), time.Now().UTC(), `{"tokens":["a"],"priors":[0.5,0.5],"alpha":1}`)
			s.Require().NoError(err)

			_, _, err = models.Latest(ctx)
			s.ErrorIs(err, textclass.ErrDimensionMismatch)
		})
	}
}

func (s *StorageTestSuite) TestNewModels_NilDB() {
	_, err := NewModels(context.Background(), nil)
	s.Error(err)
}
