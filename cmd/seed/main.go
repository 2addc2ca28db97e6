package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"clinicbooking/internal/clinic"
	"clinicbooking/pkg/config"
	"clinicbooking/pkg/db"
)

var cities = []string{"Seoul", "Busan", "Incheon", "Daegu", "Jeju"}

func main() {
	count := flag.Int("n", 20, "number of clinics to upsert")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer pool.Close()

	dir := clinic.NewPgDirectory(pool)
	for i := 0; i < *count; i++ {
		c := fakeClinic(i)
		if err := dir.Upsert(ctx, c); err != nil {
			log.Fatalf("upsert clinic %s: %v", c.ID, err)
		}
		fmt.Printf("clinic_id=%s name=%q city=%s\n", c.ID, c.Name.En, c.City)
	}

	log.Println("seed complete")
}

func fakeClinic(i int) clinic.Clinic {
	name := gofakeit.LastName() + " " + gofakeit.RandomString([]string{"Clinic", "Plastic Surgery", "Dermatology", "Medical Center"})
	city := cities[gofakeit.Number(0, len(cities)-1)]
	street := gofakeit.Street()
	return clinic.Clinic{
		ID:      fmt.Sprintf("clinic-%03d-%s", i+1, strings.ToLower(gofakeit.LetterN(4))),
		Name:    clinic.LocalizedString{En: name, Ja: name, Zh: name},
		City:    city,
		Address: clinic.LocalizedString{En: street + ", " + city, Ja: street, Zh: street},
		Phone:   gofakeit.Phone(),
	}
}
