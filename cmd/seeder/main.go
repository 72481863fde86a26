// Seeder populates a running tracker with demo taxis and a plausible
// maintenance trail, through the same HTTP API the UI uses. Point it at a
// local-mode server and it needs no credentials; give it SEED_USERNAME and
// SEED_PASSWORD and it registers and logs in first.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

var taxiModels = []string{
	"Toyota Yaris",
	"Hyundai Accent",
	"Kia Rio",
	"Chevrolet Sail",
	"Nissan Versa",
	"Toyota Corolla",
	"Suzuki Swift DZire",
}

const letters = "ABCDEFGHJKLMNPRSTUVWXYZ"

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) post(path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func randomPlate() string {
	return fmt.Sprintf("%c%c%c-%03d",
		letters[rand.Intn(len(letters))],
		letters[rand.Intn(len(letters))],
		letters[rand.Intn(len(letters))],
		rand.Intn(1000))
}

func day(t time.Time) string { return t.Format("2006-01-02") }

func main() {
	baseURL := getenv("API_URL", "http://localhost:8080")
	vehicles := getenvInt("SEED_VEHICLES", 5)
	events := getenvInt("SEED_EVENTS", 8)

	c := &client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}

	if username := os.Getenv("SEED_USERNAME"); username != "" {
		password := getenv("SEED_PASSWORD", "seeder-password")
		email := getenv("SEED_EMAIL", username+"@example.com")
		// Registration may 409 on reruns; only the login has to succeed.
		_ = c.post("/api/auth/register", map[string]string{
			"username": username, "email": email, "password": password,
		}, nil)
		var login struct {
			Token string `json:"token"`
		}
		if err := c.post("/api/auth/login", map[string]string{
			"username": username, "password": password,
		}, &login); err != nil {
			log.WithError(err).Fatal("login failed")
		}
		c.token = login.Token
		log.WithField("username", username).Info("logged in")
	}

	now := time.Now()
	for i := 0; i < vehicles; i++ {
		plate := randomPlate()
		initialKm := 20000 + rand.Intn(100000)
		created := struct {
			ID string `json:"id"`
		}{}
		err := c.post("/api/vehicles", map[string]interface{}{
			"plate":       plate,
			"model":       taxiModels[rand.Intn(len(taxiModels))],
			"initial_km":  initialKm,
			"afocat_date": day(now.AddDate(0, 0, rand.Intn(120)-20)),
			"review_date": day(now.AddDate(0, 0, rand.Intn(90)-15)),
		}, &created)
		if err != nil {
			log.WithError(err).WithField("plate", plate).Error("vehicle creation failed")
			continue
		}
		log.WithFields(log.Fields{"plate": plate, "id": created.ID}).Info("vehicle created")

		km := initialKm
		date := now.AddDate(0, 0, -25*events)
		for j := 0; j < events; j++ {
			km += 3000 + rand.Intn(3000)
			date = date.AddDate(0, 0, 20+rand.Intn(15))
			if date.After(now) {
				break
			}
			filters := []string{"oil_filter"}
			if rand.Intn(2) == 0 {
				filters = append(filters, "air_filter")
			}
			if rand.Intn(3) == 0 {
				filters = append(filters, "fuel_filter")
			}
			if j > 0 && j%5 == 0 {
				filters = append(filters, "grease_box")
			}
			event := map[string]interface{}{
				"date":            day(date),
				"km":              km,
				"oil_used":        "20W-50",
				"filters_changed": filters,
			}
			if rand.Intn(6) == 0 {
				event["changed_afocat"] = day(date.AddDate(1, 0, 0))
			}
			err := c.post("/api/vehicles/"+created.ID+"/maintenance", event, nil)
			if err != nil {
				log.WithError(err).WithField("plate", plate).Error("maintenance log failed")
				break
			}
		}
	}
	log.Info("seeding complete")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
