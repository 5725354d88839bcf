package cache

var NoCache Cache = &noCache{}

type noCache struct{}

func (m *noCache) Name() string { return "no-cache" }

func (m *noCache) GetOrSet(_ interface{}, setFn SetFn) (v interface{}, err error) {
	return setFn()
}

func (m *noCache) Remove(interface{}) {}

func (m *noCache) Purge() {}
