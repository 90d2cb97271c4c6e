package sink

// Resolver finds the file a sink writes to
type Resolver interface {
	Resolve() (string, error)
	// Invalidate drops any cached result after a failed write
	Invalidate()
}

// StaticPath always resolves to the same file
type StaticPath string

func (s StaticPath) Resolve() (string, error) { return string(s), nil }

func (StaticPath) Invalidate() {}

// CachedResolver memoizes a directory scan until the discovered path stops
// working
type CachedResolver struct {
	discover func() (string, error)
	path     string
	scans    int
}

// NewCachedResolver wraps a discovery function
func NewCachedResolver(discover func() (string, error)) *CachedResolver {
	return &CachedResolver{discover: discover}
}

func (c *CachedResolver) Resolve() (string, error) {
	if c.path != "" {
		return c.path, nil
	}

	c.scans++
	path, err := c.discover()
	if err != nil {
		return "", err
	}
	c.path = path

	return path, nil
}

func (c *CachedResolver) Invalidate() {
	c.path = ""
}

// Scans returns how many times discovery ran
func (c *CachedResolver) Scans() int {
	return c.scans
}
