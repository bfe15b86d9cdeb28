// Package lib provides functionality for drug trafficking detection in short messages. The primary type
// in this package is the Detector, which classifies given texts with a trained textclass.Model.
// It is initialized with parameters defined in the Config struct.
//
// The Detector is thread-safe and supports concurrent usage.
//
// Before using a Detector, it is necessary to give it a model with Detector.Reload. A model can be
// trained with textclass.Fit or restored from saved parameters with textclass.NewModel. Reload can be called
// at any time, checks running concurrently use either the old or the new model, never a mix of both.
//
// Config provides configuration options:
//
//   - Config.MinProbability defines minimal confidence (percent) of the illicit label to flag a message.
//     If 0, every message classified as illicit is flagged.
//
//   - Config.TopTriggers defines how many tokens are reported as triggers of the decision. For illicit
//     messages triggers are the strongest tokens with positive scores, for safe messages the strongest
//     tokens with negative scores. Default is 3.
//
//   - Config.CacheSize and Config.CacheTTL set up the cache of recent verdicts. Cache is keyed by model
//     generation, so reloading a model never returns stale verdicts. Zero CacheSize disables the cache.
//
//   - Config.HistorySize defines how many recent verdicts are kept in memory, see Detector.History.
//
//   - Config.Dedup makes triggers and explanation list each distinct token once.
package lib
