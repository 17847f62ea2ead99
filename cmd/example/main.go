package main

import (
	"fmt"
	"log"
	"time"

	"sisort/pkg/common"
	"sisort/pkg/core"
)

func main() {
	ts := common.TrainingSet{
		{0.1, 0.4, 0.6, 0.9},
		{0.2, 0.5, 0.7, 0.95},
	}

	fmt.Printf("Training on %d rounds of %d positions...\n", ts.Rounds(), ts.Positions())
	start := time.Now()
	s, err := core.Train(ts, 4)
	if err != nil {
		log.Fatalf("Train failed: %v", err)
	}
	fmt.Printf("Boundaries %v (in %v)\n", s.Boundaries().Cuts(), time.Since(start))

	inst := common.Instance{0.3, 0.95, 0.05, 0.5}
	fmt.Printf("Sorting %v...\n", inst)
	start = time.Now()
	out, st, err := s.SortStats(inst)
	if err != nil {
		log.Fatalf("Sort failed: %v", err)
	}
	fmt.Printf("Got %v with %d comparisons (in %v)\n", out, st.Comparisons(), time.Since(start))
}
