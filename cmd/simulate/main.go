package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Drives the booking API end to end: books appointments for generated
// insured ids across both countries, then polls until every booking
// reaches completed or the deadline passes. Smoke tool for a locally
// running pipeline, not a load generator.

type bookedAppointment struct {
	ID        string `json:"id"`
	InsuredID string `json:"insured_id"`
	Status    string `json:"status"`
}

type listResponse struct {
	Appointments []bookedAppointment `json:"appointments"`
}

func main() {
	baseURL := flag.String("base-url", "http://127.0.0.1:8080", "api-server base URL")
	count := flag.Int("count", 10, "appointments to book")
	wait := flag.Duration("wait", time.Minute, "how long to wait for completion")
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	gofakeit.Seed(time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), *wait+30*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	countries := []string{"PE", "CL"}

	booked := make([]bookedAppointment, 0, *count)
	for i := 0; i < *count; i++ {
		insured := fmt.Sprintf("%05d", gofakeit.Number(1, 99999))
		country := countries[i%len(countries)]
		scheduleID := gofakeit.Number(1, 500)

		appt, err := book(ctx, client, *baseURL, insured, country, int64(scheduleID))
		if err != nil {
			log.Printf("book %s/%s failed: %v", insured, country, err)
			continue
		}
		log.Printf("booked %s for insured %s in %s (schedule %d)", appt.ID, insured, country, scheduleID)
		booked = append(booked, *appt)
	}

	if len(booked) == 0 {
		log.Fatal("nothing booked, giving up")
	}

	deadline := time.Now().Add(*wait)
	pending := make(map[string]string, len(booked)) // appointment id -> insured id
	for _, appt := range booked {
		pending[appt.ID] = appt.InsuredID
	}

	for len(pending) > 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Second)

		for id, insured := range pending {
			status, err := lookupStatus(ctx, client, *baseURL, insured, id)
			if err != nil {
				log.Printf("poll %s: %v", id, err)
				continue
			}
			if status == "completed" {
				log.Printf("completed %s", id)
				delete(pending, id)
			}
		}
	}

	if len(pending) > 0 {
		log.Fatalf("%d of %d appointments never completed", len(pending), len(booked))
	}
	log.Printf("all %d appointments completed", len(booked))
}

func book(ctx context.Context, client *http.Client, baseURL, insured, country string, scheduleID int64) (*bookedAppointment, error) {
	payload, _ := json.Marshal(map[string]any{
		"insured_id":  insured,
		"country_iso": country,
		"schedule_id": scheduleID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var appt bookedAppointment
	if err := json.Unmarshal(body, &appt); err != nil {
		return nil, err
	}
	return &appt, nil
}

func lookupStatus(ctx context.Context, client *http.Client, baseURL, insured, appointmentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/appointments?insured_id="+insured, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", err
	}
	for _, appt := range list.Appointments {
		if appt.ID == appointmentID {
			return appt.Status, nil
		}
	}
	return "", fmt.Errorf("appointment %s not in list", appointmentID)
}
