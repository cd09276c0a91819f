package valueobjects

import (
	"errors"
	"time"
)

const localDateTimeLayout = "2006-01-02T15:04:05"

// LocalDateTime is a wall-clock date and time with no zone attached.
// It only becomes an instant once a location is supplied.
type LocalDateTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// NewLocalDateTime creates a LocalDateTime from its components
func NewLocalDateTime(year int, month time.Month, day, hour, minute, second int) LocalDateTime {
	return LocalDateTime{Year: year, Month: month, Day: day, Hour: hour, Minute: minute, Second: second}
}

// LocalDateTimeOf takes the wall-clock reading of t in its own location
func LocalDateTimeOf(t time.Time) LocalDateTime {
	return LocalDateTime{
		Year:   t.Year(),
		Month:  t.Month(),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// ParseLocalDateTime parses YYYY-MM-DDTHH:MM:SS
func ParseLocalDateTime(s string) (LocalDateTime, error) {
	t, err := time.Parse(localDateTimeLayout, s)
	if err != nil {
		return LocalDateTime{}, err
	}
	return LocalDateTimeOf(t), nil
}

// In interprets the wall-clock reading in loc
func (l LocalDateTime) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(l.Year, l.Month, l.Day, l.Hour, l.Minute, l.Second, 0, loc)
}

// IsZero checks if the LocalDateTime is the zero value
func (l LocalDateTime) IsZero() bool {
	return l == LocalDateTime{}
}

// Before reports whether l is earlier than other on the wall clock
func (l LocalDateTime) Before(other LocalDateTime) bool {
	return l.In(time.UTC).Before(other.In(time.UTC))
}

// String returns YYYY-MM-DDTHH:MM:SS
func (l LocalDateTime) String() string {
	return l.In(time.UTC).Format(localDateTimeLayout)
}

// MarshalJSON implements json.Marshaler
func (l LocalDateTime) MarshalJSON() ([]byte, error) {
	if l.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (l *LocalDateTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = LocalDateTime{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("LocalDateTime must be a string")
	}
	parsed, err := ParseLocalDateTime(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LoadLocation resolves an IANA zone name, defaulting to UTC when empty
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
