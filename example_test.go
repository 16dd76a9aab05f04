package sessiond_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aretw0/sessiond"
	"github.com/aretw0/sessiond/pkg/domain"
)

// ExampleOpen demonstrates the session lifecycle on the in-memory backend.
func ExampleOpen() {
	ctx := context.Background()

	svc, err := sessiond.Open(ctx, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	for _, id := range []string{"s1", "s2"} {
		if _, err := svc.Storage.AddIfAbsent(ctx, &domain.Session{ID: id, UserID: 1, ContextID: 1}); err != nil {
			log.Fatal(err)
		}
	}

	s, err := svc.Storage.Lookup(ctx, "s1")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("found", s.ID, "of user", s.UserID)

	removed, err := svc.Storage.RemoveSessionsForUser(ctx, 1, 1)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("removed", len(removed))

	_, err = svc.Storage.Lookup(ctx, "s1")
	fmt.Println("gone:", errors.Is(err, domain.ErrNoSessionFound))

	// Output:
	// found s1 of user 1
	// removed 2
	// gone: true
}
