package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/umputun/drugwatch/app/storage/engine"
	"github.com/umputun/drugwatch/lib/textclass"
)

func (s *StorageTestSuite) TestNewSamples() {
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			defer db.Exec("DROP TABLE samples")

			tests := []struct {
				name    string
				db      *engine.SQL
				wantErr bool
			}{
				{name: "valid db connection", db: db},
				{name: "nil db connection", db: nil, wantErr: true},
			}
			for _, tt := range tests {
				s.Run(tt.name, func() {
					samples, err := NewSamples(context.Background(), tt.db)
					if tt.wantErr {
						s.Error(err)
						s.Nil(samples)
						return
					}
					s.NoError(err)
					s.NotNil(samples)
				})
			}

			s.Run("init twice", func() {
				_, err := NewSamples(context.Background(), db)
				s.NoError(err)
			})
		})
	}
}

func (s *StorageTestSuite) TestSamples_Add() {
	ctx := context.Background()
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			samples, err := NewSamples(ctx, db)
			s.Require().NoError(err)
			defer db.Exec("DROP TABLE samples")

			tests := []struct {
				name    string
				label   textclass.Label
				origin  SampleOrigin
				message string
				wantErr bool
			}{
				{name: "valid safe preset", label: textclass.LabelSafe, origin: SampleOriginPreset, message: "sushi dinner"},
				{name: "valid illicit user", label: textclass.LabelIllicit, origin: SampleOriginUser, message: "pills cheap"},
				{name: "invalid label", label: 2, origin: SampleOriginUser, message: "bad label", wantErr: true},
				{name: "invalid origin", label: textclass.LabelSafe, origin: "unknown", message: "bad origin", wantErr: true},
				{name: "origin any", label: textclass.LabelSafe, origin: SampleOriginAny, message: "any origin", wantErr: true},
				{name: "empty message", label: textclass.LabelSafe, origin: SampleOriginUser, message: "", wantErr: true},
			}
			for _, tt := range tests {
				s.Run(tt.name, func() {
					err := samples.Add(ctx, tt.label, tt.origin, tt.message)
					if tt.wantErr {
						s.Error(err)
						return
					}
					s.NoError(err)
				})
			}

			res, err := samples.Read(ctx, SampleOriginAny)
			s.Require().NoError(err)
			s.Require().Len(res, 2)
			s.Equal("sushi dinner", res[0].Message)
			s.Equal(textclass.LabelSafe, res[0].Label)
			s.Equal(SampleOriginPreset, res[0].Origin)
			s.Equal("pills cheap", res[1].Message)
			s.Equal(textclass.LabelIllicit, res[1].Label)

			s.Run("same message replaces label", func() {
				s.Require().NoError(samples.Add(ctx, textclass.LabelIllicit, SampleOriginUser, "sushi dinner"))
				res, err := samples.Read(ctx, SampleOriginAny)
				s.Require().NoError(err)
				s.Require().Len(res, 2)
				for _, r := range res {
					if r.Message == "sushi dinner" {
						s.Equal(textclass.LabelIllicit, r.Label)
						s.Equal(SampleOriginUser, r.Origin)
					}
				}
			})
		})
	}
}

func (s *StorageTestSuite) TestSamples_Delete() {
	ctx := context.Background()
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			samples, err := NewSamples(ctx, db)
			s.Require().NoError(err)
			defer db.Exec("DROP TABLE samples")

			s.Require().NoError(samples.Add(ctx, textclass.LabelSafe, SampleOriginUser, "keep me"))
			s.Require().NoError(samples.Add(ctx, textclass.LabelIllicit, SampleOriginUser, "delete me"))
			res, err := samples.Read(ctx, SampleOriginUser)
			s.Require().NoError(err)
			s.Require().Len(res, 2)

			s.NoError(samples.Delete(ctx, res[1].ID))
			err = samples.Delete(ctx, res[1].ID)
			s.ErrorIs(err, ErrNotFound)

			res, err = samples.Read(ctx, SampleOriginUser)
			s.Require().NoError(err)
			s.Require().Len(res, 1)
			s.Equal("keep me", res[0].Message)
		})
	}
}

func (s *StorageTestSuite) TestSamples_ImportAndExamples() {
	ctx := context.Background()
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			samples, err := NewSamples(ctx, db)
			s.Require().NoError(err)
			defer db.Exec("DROP TABLE samples")

			preset := []textclass.Example{
				{Text: "buy pills cheap", Label: textclass.LabelIllicit},
				{Text: "great sushi dinner", Label: textclass.LabelSafe},
				{Text: "need pills now", Label: textclass.LabelIllicit},
				{Text: "nice sunny park", Label: textclass.LabelSafe},
			}
			stats, err := samples.Import(ctx, preset, SampleOriginPreset, true)
			s.Require().NoError(err)
			s.Equal(SamplesStats{TotalIllicit: 2, TotalSafe: 2, PresetIllicit: 2, PresetSafe: 2}, *stats)

			s.Require().NoError(samples.Add(ctx, textclass.LabelIllicit, SampleOriginUser, "weed downtown dm me"))

			s.Run("examples keep insertion order", func() {
				res, err := samples.Examples(ctx, SampleOriginPreset)
				s.Require().NoError(err)
				s.Equal(preset, res)

				all, err := samples.Examples(ctx, SampleOriginAny)
				s.Require().NoError(err)
				s.Len(all, 5)
				s.Equal("weed downtown dm me", all[4].Text)

				user, err := samples.Examples(ctx, SampleOriginUser)
				s.Require().NoError(err)
				s.Equal([]textclass.Example{{Text: "weed downtown dm me", Label: textclass.LabelIllicit}}, user)
			})

			s.Run("import with cleanup replaces only same origin", func() {
				stats, err := samples.Import(ctx, preset[:1], SampleOriginPreset, true)
				s.Require().NoError(err)
				s.Equal(SamplesStats{TotalIllicit: 2, PresetIllicit: 1, UserIllicit: 1}, *stats)
			})

			s.Run("import without cleanup appends", func() {
				stats, err := samples.Import(ctx, preset[1:2], SampleOriginPreset, false)
				s.Require().NoError(err)
				s.Equal(2, stats.PresetIllicit+stats.PresetSafe)
			})

			s.Run("invalid examples rejected as a whole", func() {
				bad := []textclass.Example{
					{Text: "fine", Label: textclass.LabelSafe},
					{Text: "", Label: textclass.LabelSafe},
					{Text: "bad label", Label: 5},
				}
				_, err := samples.Import(ctx, bad, SampleOriginUser, false)
				s.Require().Error(err)
				s.Contains(err.Error(), "sample 1")
				s.Contains(err.Error(), "sample 2")

				stats, err := samples.Stats(ctx)
				s.Require().NoError(err)
				s.Equal(1, stats.UserIllicit+stats.UserSafe)
			})

			s.Run("invalid origin", func() {
				_, err := samples.Import(ctx, preset, SampleOriginAny, false)
				s.Error(err)
				_, err = samples.Examples(ctx, "bad")
				s.Error(err)
			})
		})
	}
}

func (s *StorageTestSuite) TestSamples_Concurrent() {
	ctx := context.Background()
	for _, dbt := range s.getTestDB() {
		db := dbt.DB
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			samples, err := NewSamples(ctx, db)
			s.Require().NoError(err)
			defer db.Exec("DROP TABLE samples")

			const workers, perWorker = 4, 10
			var wg sync.WaitGroup
			for w := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range perWorker {
						msg := fmt.Sprintf("message %d-%d", w, i)
						s.NoError(samples.Add(ctx, textclass.Label(i%2), SampleOriginUser, msg))
						_, err := samples.Stats(ctx)
						s.NoError(err)
					}
				}()
			}
			wg.Wait()

			stats, err := samples.Stats(ctx)
			s.Require().NoError(err)
			s.Equal(workers*perWorker/2, stats.UserIllicit)
			s.Equal(workers*perWorker/2, stats.UserSafe)
		})
	}
}

func (s *StorageTestSuite) TestSampleOrigin_Validate() {
	s.NoError(SampleOriginPreset.Validate())
	s.NoError(SampleOriginUser.Validate())
	s.NoError(SampleOriginAny.Validate())
	s.Error(SampleOrigin("other").Validate())
	s.Equal("preset", SampleOriginPreset.String())
}

func (s *StorageTestSuite) TestSamplesStats_String() {
	st := SamplesStats{TotalIllicit: 3, TotalSafe: 2, PresetIllicit: 1, PresetSafe: 1, UserIllicit: 2, UserSafe: 1}
	s.Equal("illicit: 3, safe: 2, preset illicit: 1, preset safe: 1, user illicit: 2, user safe: 1", st.String())
}
