package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"cardiotwin/common/database"
	commonredis "cardiotwin/common/redis"
	"cardiotwin/internal/config"
	"cardiotwin/internal/consumer"
	"cardiotwin/internal/repository"

	"go.uber.org/zap"
)

// cardiotwin-check 排查工具：打印某个会话在 PostgreSQL 与 Redis 中的状态
func main() {
	sessionID := flag.String("session", "", "session id to inspect")
	limit := flag.Int("limit", 10, "number of alert events / history points to print")
	runFlag := flag.String("run", "", "run id to inspect (defaults to the session's current run)")
	flag.Parse()
	if *sessionID == "" {
		log.Fatalf("usage: cardiotwin-check -session <id> [-run <run_id>] [-limit N]")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	nop := zap.NewNop()

	// 1. Redis 快照
	printHeader("1. Redis session snapshot")
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	defer commonredis.Close(redisClient)
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		log.Printf("Redis unavailable: %v", err)
	} else {
		state := consumer.NewStateManager(cfg, redisClient, nop)
		snap, err := state.LoadSnapshot(ctx, *sessionID)
		switch {
		case err != nil:
			log.Printf("Failed to load snapshot: %v", err)
		case snap == nil:
			fmt.Println("no snapshot")
		default:
			fmt.Printf("%-20s %s\n", "run_id", snap.RunID)
			fmt.Printf("%-20s %s\n", "phase", snap.Phase)
			fmt.Printf("%-20s %d\n", "readings_accepted", snap.ReadingsAccepted)
			fmt.Printf("%-20s %d\n", "readings_rejected", snap.ReadingsRejected)
			fmt.Printf("%-20s %d\n", "history_points", len(snap.History))
			fmt.Printf("%-20s %s\n", "last_seen_at", snap.LastSeenAt.Format(time.RFC3339))
			if snap.FailureReason != "" {
				fmt.Printf("%-20s %s\n", "failure_reason", snap.FailureReason)
			}
		}
		latched, err := state.IsAlertLatched(ctx, *sessionID)
		if err == nil {
			fmt.Printf("%-20s %v\n", "alert_latched", latched)
		}
	}

	// 2. 数据库记录
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	printHeader("2. Session")
	info, err := repository.NewSessionsRepository(db, nop).GetSession(ctx, *sessionID)
	if err != nil {
		log.Fatalf("Failed to query session: %v", err)
	}
	if info == nil {
		fmt.Println("session not found in database")
		return
	}
	runID := info.RunID
	if *runFlag != "" {
		runID = *runFlag
	}
	fmt.Printf("%-20s %s\n", "run_id", info.RunID)
	fmt.Printf("%-20s %s (%s)\n", "language", info.Language, info.Language.Name())
	fmt.Printf("%-20s %s\n", "created_at", info.CreatedAt.Format(time.RFC3339))
	fmt.Printf("%-20s %s\n", "user_phone", getString(info.UserPhone))
	if info.EndedAt != nil {
		fmt.Printf("%-20s %s\n", "ended_at", info.EndedAt.Format(time.RFC3339))
	}

	if runID != info.RunID {
		fmt.Printf("%-20s %s\n", "inspecting_run", runID)
	}

	printHeader("3. Baseline")
	baseline, err := repository.NewBaselinesRepository(db, nop).GetBaseline(ctx, *sessionID, runID)
	if err != nil {
		log.Printf("Failed to query baseline: %v", err)
	} else if baseline == nil {
		fmt.Println("no baseline (calibration not finished)")
	} else {
		fmt.Printf("%-12s %-12s %-12s %-12s %-8s\n", "resting_hr", "resting_hrv", "spo2", "temperature", "samples")
		fmt.Printf("%-12.1f %-12.1f %-12.1f %-12.2f %-8d\n",
			baseline.RestingHeartRate, baseline.RestingHRV, baseline.NormalSpO2, baseline.NormalTemperature, baseline.SampleCount)
	}

	printHeader("4. Score history")
	history, err := repository.NewReadingsRepository(db, nop).ListScoredHistory(ctx, *sessionID, runID, *limit)
	if err != nil {
		log.Printf("Failed to query history: %v", err)
	}
	fmt.Printf("%-25s %-8s %-8s\n", "time", "score", "zone")
	for _, p := range history {
		fmt.Printf("%-25s %-8.1f %-8s\n", time.UnixMilli(p.Timestamp).UTC().Format(time.RFC3339), p.Score, p.Zone)
	}

	printHeader("5. Alert events")
	events, err := repository.NewAlertEventsRepository(db, nop).ListBySession(ctx, *sessionID, runID, *limit)
	if err != nil {
		log.Printf("Failed to query alert events: %v", err)
	}
	fmt.Printf("%-25s %-18s %-8s %-8s %-10s %-10s\n", "triggered_at", "alert_code", "severity", "score", "channel", "delivered")
	for _, e := range events {
		fmt.Printf("%-25s %-18s %-8s %-8.1f %-10s %-10v\n",
			e.TriggeredAt.Format(time.RFC3339), e.AlertCode, e.Severity, e.Score, e.Channel, e.Delivered)
	}
}

func printHeader(title string) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 80))
}

func getString(s *string) string {
	if s == nil {
		return "NULL"
	}
	return *s
}
