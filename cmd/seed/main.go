package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
)

func main() {
	var (
		students    int
		maxAttempts int
		duration    time.Duration
	)
	flag.IntVar(&students, "students", 5, "Number of students to create")
	flag.IntVar(&maxAttempts, "max-attempts", 2, "Attempt limit of the demo test (0 = unlimited)")
	flag.DurationVar(&duration, "duration", 10*time.Minute, "Duration of the demo test")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	studentRepo := repository.NewStudentRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	authService := service.NewAuthService(cfg, rdb)

	test := demoTest(int(duration.Seconds()), maxAttempts)
	if err := testRepo.Create(ctx, test); err != nil {
		log.Fatal().Err(err).Msg("Failed to create demo test")
	}
	fmt.Printf("Created test %q with ID: %s\n", test.Title, test.ID)

	names := []string{
		"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
		"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	}

	for i := 0; i < students; i++ {
		s := &model.Student{Name: names[i%len(names)]}
		if err := studentRepo.Create(ctx, s); err != nil {
			fmt.Printf("Error creating student %s: %v\n", s.Name, err)
			continue
		}
		token, err := authService.IssueStudentToken(ctx, s.ID)
		if err != nil {
			fmt.Printf("Error issuing token for student %d: %v\n", s.ID, err)
			continue
		}
		fmt.Printf("Student %d (%s)\n  STUDENT_TOKEN=%s\n", s.ID, s.Name, token)
	}

	fmt.Printf("\nSeed completed! Run: examctl take %s\n", test.ID)
}

func demoTest(durationSeconds, maxAttempts int) *model.Test {
	return &model.Test{
		Title:           "Vektor dan Gaya",
		DurationSeconds: durationSeconds,
		MaxAttempts:     maxAttempts,
		Status:          model.TestStatusPublished,
		Questions: []model.Question{
			{
				Content: "Besaran berikut yang termasuk besaran vektor adalah...",
				Type:    model.QuestionTypeSingleChoice,
				Choices: []model.Choice{{Content: "Massa"}, {Content: "Kecepatan"}, {Content: "Suhu"}},
			},
			{
				Content: "Pilih semua satuan gaya yang benar.",
				Type:    model.QuestionTypeMultiChoice,
				Choices: []model.Choice{{Content: "Newton"}, {Content: "kg·m/s²"}, {Content: "Joule"}},
			},
			{
				Content: "Resultan dua vektor selalu lebih besar dari tiap komponennya.",
				Type:    model.QuestionTypeTrueFalse,
				Choices: []model.Choice{{Content: "Benar"}, {Content: "Salah"}},
			},
			{
				Content: "Susun jajar genjang gaya pada simulasi, lalu pilih besar resultannya.",
				Type:    model.QuestionTypeSimulation,
				Choices: []model.Choice{{Content: "5 N"}, {Content: "7 N"}, {Content: "12 N"}},
				Simulation: &model.Simulation{
					ToolName: "vector-lab",
					Payload:  json.RawMessage(`{"scene":"parallelogram","vectors":[[3,0],[0,4]]}`),
				},
			},
			{
				Content: "Jelaskan perbedaan antara jarak dan perpindahan.",
				Type:    model.QuestionTypeEssay,
			},
		},
	}
}
