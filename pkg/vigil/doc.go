// Package vigil provides early risk and anomaly assessment for CVE
// descriptions, backed by frozen model artifacts and the NVD feed.
//
// Quick start:
//
//	v, err := vigil.New(vigil.WithBundlePath("vigil.db"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, _ := v.AnalyzeOne(ctx, "Buffer overflow allows remote code execution")
//	fmt.Println(res.Tier, res.Confidence) // HIGH 0.78
//
// A Vigil instance is safe for concurrent use. Create once, reuse across
// requests; the model bundle is loaded a single time at construction.
package vigil
