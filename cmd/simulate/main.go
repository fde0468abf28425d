package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hackgods/dental-appointment-scheduling/internal/config"
)

const timestampLayout = "2006-01-02T15:04:05.000"

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	TransitionRatio float64
	CancelRatio     float64
	ReadRatio       float64
	Patients        int
	Days            int
	Clinics         []string
	PerClinic       bool
}

type patient struct {
	ID   string
	Name string
}

type DataPool struct {
	Patients     []patient
	mu           sync.RWMutex
	appointments []uuid.UUID // Thread-safe list of created appointment IDs
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	Cancel     OperationMetrics
	ReadByID   OperationMetrics
	Today      OperationMetrics
	Upcoming   OperationMetrics
	Summary    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f transition=%.2f cancel=%.2f read=%.2f per_clinic=%t",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.TransitionRatio, cfg.CancelRatio, cfg.ReadRatio, cfg.PerClinic)

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{Patients: fakePatients(cfg.Patients)},
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	// Run simulation
	sim.Run()

	// Print report
	sim.PrintReport()

	violations, err := sim.Verify(context.Background())
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			log.Printf("VIOLATION: %s", v)
		}
		os.Exit(1)
	}
	log.Println("verification passed: no overlapping or duplicate same-day bookings")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		TransitionRatio: getFloat("SIM_TRANSITION_RATIO", 0.1),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.05),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.35),
		Patients:        getInt("SIM_PATIENTS", 200),
		Days:            getInt("SIM_DAYS", 3),
		Clinics:         strings.Split(getEnv("SIM_CLINICS", "Indiranagar,Koramangala,Whitefield"), ","),
		PerClinic:       baseCfg.OverlapPerClinic(),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_PATIENTS and SIM_DAYS must be > 0")
	}
	return nil
}

func fakePatients(n int) []patient {
	out := make([]patient, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, patient{ID: "SIM-" + gofakeit.UUID()[:8], Name: gofakeit.Name()})
	}
	return out
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.TransitionRatio:
				s.doTransition(ctx, rng)
			case r < s.config.BookingRatio+s.config.TransitionRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				// Read operations - distribute evenly
				switch rng.Intn(4) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doGet(ctx, "/appointments/today?clinic="+url.QueryEscape(s.randomClinic(rng)), &s.metrics.Today)
				case 2:
					s.doGet(ctx, "/appointments/upcoming", &s.metrics.Upcoming)
				case 3:
					s.doGet(ctx, "/appointments/today/summary?clinic="+url.QueryEscape(s.randomClinic(rng)), &s.metrics.Summary)
				}
			}
		}
	}
}

func (s *Simulator) randomClinic(rng *rand.Rand) string {
	return s.config.Clinics[rng.Intn(len(s.config.Clinics))]
}

// doBooking requests a random half-hour or hour-long slot between 08:00 and
// 18:00 on one of the next few days. Slots are coarse so requests collide.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	day := time.Now().AddDate(0, 0, rng.Intn(s.config.Days))
	startMin := 8*60 + 30*rng.Intn(20)
	endMin := startMin + 30*(1+rng.Intn(2))

	reqBody := map[string]string{
		"patientId":     p.ID,
		"patientName":   p.Name,
		"date":          day.Format("2006-01-02"),
		"startTime":     fmt.Sprintf("%02d:%02d", startMin/60, startMin%60),
		"endTime":       fmt.Sprintf("%02d:%02d", endMin/60, endMin%60),
		"treatmentType": gofakeit.RandomString([]string{"Cleaning", "Filling", "Root canal", "Consultation"}),
		"clinicName":    s.randomClinic(rng),
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			success = true
			var apptResp struct {
				ID uuid.UUID `json:"id"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(bodyBytes, &apptResp) == nil && apptResp.ID != uuid.Nil {
				s.pool.AddAppointment(apptResp.ID)
			}
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status := "completed"
	if rng.Intn(2) == 0 {
		status = "cancelled"
	}
	body, _ := json.Marshal(map[string]string{"status": status})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/appointments/%s/status", s.config.APIBaseURL, apptID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		// already moved or already deleted
		conflict = resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusNotFound
	}

	s.metrics.Transition.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusNotFound
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.doGet(ctx, "/appointments/"+apptID.String(), &s.metrics.ReadByID)
}

func (s *Simulator) doGet(ctx context.Context, path string, om *OperationMetrics) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	notFound := false
	if err == nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		success = resp.StatusCode == http.StatusOK
		notFound = resp.StatusCode == http.StatusNotFound
	}

	om.Record(latency, success, notFound)
}

type bookedAppointment struct {
	ID         uuid.UUID `json:"id"`
	PatientID  string    `json:"patientId"`
	ClinicName string    `json:"clinicName"`
	Date       string    `json:"date"`
	StartTime  string    `json:"startTime"`
	EndTime    string    `json:"endTime"`
}

// Verify reloads every upcoming scheduled appointment and checks that no two
// overlap within the configured scope and that no patient holds two on one day.
func (s *Simulator) Verify(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/appointments/upcoming", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list upcoming: status %d", resp.StatusCode)
	}

	var appts []bookedAppointment
	if err := json.NewDecoder(resp.Body).Decode(&appts); err != nil {
		return nil, fmt.Errorf("decode upcoming: %w", err)
	}
	log.Printf("verifying %d scheduled appointments", len(appts))

	var violations []string

	patientDay := make(map[string]uuid.UUID)
	for _, a := range appts {
		key := a.PatientID + "|" + a.Date
		if other, ok := patientDay[key]; ok {
			violations = append(violations, fmt.Sprintf("patient %s booked twice on %s (%s, %s)", a.PatientID, a.Date, other, a.ID))
		}
		patientDay[key] = a.ID
	}

	groups := make(map[string][]bookedAppointment)
	for _, a := range appts {
		key := a.Date
		if s.config.PerClinic {
			key += "|" + a.ClinicName
		}
		groups[key] = append(groups[key], a)
	}
	for key, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].StartTime < group[j].StartTime })
		for i := 1; i < len(group); i++ {
			prevEnd, _ := time.Parse(timestampLayout, group[i-1].EndTime)
			curStart, _ := time.Parse(timestampLayout, group[i].StartTime)
			if curStart.Before(prevEnd) {
				violations = append(violations, fmt.Sprintf("overlap in %s: %s and %s", key, group[i-1].ID, group[i].ID))
			}
		}
	}

	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status transition", &s.metrics.Transition)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Today by clinic", &s.metrics.Today)
	printOperationReport("Upcoming", &s.metrics.Upcoming)
	printOperationReport("Status summary", &s.metrics.Summary)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
