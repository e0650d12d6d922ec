package memory

import "example.com/activities/internal/domain"

// DefaultCatalog mirrors the activities seeded by migrations/0002_seed_activities.sql.
func DefaultCatalog() []domain.Activity {
	return []domain.Activity{
		{Name: "Chess Club", Description: "Learn strategies and compete in chess tournaments", Schedule: "Fridays, 3:30 PM - 5:00 PM", MaxParticipants: limit(12)},
		{Name: "Programming Class", Description: "Learn programming fundamentals and build software projects", Schedule: "Tuesdays and Thursdays, 3:30 PM - 4:30 PM", MaxParticipants: limit(20)},
		{Name: "Gym Class", Description: "Physical education and sports activities", Schedule: "Mondays, Wednesdays, Fridays, 2:00 PM - 3:00 PM", MaxParticipants: limit(30)},
		{Name: "Soccer Team", Description: "Join the school soccer team and compete in matches", Schedule: "Tuesdays and Thursdays, 4:00 PM - 5:30 PM", MaxParticipants: limit(22)},
		{Name: "Basketball Team", Description: "Practice and play basketball with the school team", Schedule: "Wednesdays and Fridays, 3:30 PM - 5:00 PM", MaxParticipants: limit(15)},
		{Name: "Art Club", Description: "Explore your creativity through painting and drawing", Schedule: "Thursdays, 3:30 PM - 5:00 PM", MaxParticipants: limit(15)},
		{Name: "Drama Club", Description: "Act, direct, and produce plays and performances", Schedule: "Mondays and Wednesdays, 4:00 PM - 5:30 PM", MaxParticipants: limit(20)},
		{Name: "Math Club", Description: "Solve challenging problems and participate in math competitions", Schedule: "Tuesdays, 3:30 PM - 4:30 PM", MaxParticipants: limit(10)},
		{Name: "Debate Team", Description: "Develop public speaking and argumentation skills", Schedule: "Fridays, 4:00 PM - 5:30 PM", MaxParticipants: limit(12)},
		{Name: "Library Volunteers", Description: "Help run the school library during lunch breaks", Schedule: "Weekdays, 12:00 PM - 12:45 PM"},
	}
}

func limit(n int) *int {
	return &n
}
