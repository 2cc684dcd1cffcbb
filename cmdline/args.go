package main

import "fmt"
import "strconv"
import "strings"

import "github.com/globegl/globeview/tile"

// boundsValue parses a "minLat,minLon,maxLat,maxLon" flag.
type boundsValue struct {
	Bounds tile.Bounds
	set    bool
}

func (b *boundsValue) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return fmt.Errorf("cannot parse %q as minLat,minLon,maxLat,maxLon", s)
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	bounds := tile.Bounds{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}
	if bounds.MinLat > bounds.MaxLat {
		return fmt.Errorf("minLat %v exceeds maxLat %v", bounds.MinLat, bounds.MaxLat)
	}
	if bounds.MinLon > bounds.MaxLon {
		return fmt.Errorf("minLon %v exceeds maxLon %v", bounds.MinLon, bounds.MaxLon)
	}
	b.Bounds = bounds
	b.set = true
	return nil
}

func (b *boundsValue) String() string {
	if !b.set {
		return ""
	}
	return fmt.Sprintf("%v,%v,%v,%v", b.Bounds.MinLat, b.Bounds.MinLon, b.Bounds.MaxLat, b.Bounds.MaxLon)
}

// zoomRangeValue parses a "z" or "zmin-zmax" flag.
type zoomRangeValue struct {
	Min, Max int32
	set      bool
}

func (z *zoomRangeValue) Set(s string) error {
	parse := func(part string) (int32, error) {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return 0, err
		}
		if v < 0 || v > int64(tile.MaxZoom) {
			return 0, fmt.Errorf("zoom %d out of range 0..%d", v, tile.MaxZoom)
		}
		return int32(v), nil
	}
	var err error
	if minStr, maxStr, ok := strings.Cut(s, "-"); ok {
		if z.Min, err = parse(minStr); err != nil {
			return err
		}
		if z.Max, err = parse(maxStr); err != nil {
			return err
		}
	} else {
		if z.Min, err = parse(s); err != nil {
			return err
		}
		z.Max = z.Min
	}
	if z.Min > z.Max {
		return fmt.Errorf("zoom range %d-%d is inverted", z.Min, z.Max)
	}
	z.set = true
	return nil
}

func (z *zoomRangeValue) String() string {
	if !z.set {
		return ""
	}
	if z.Min == z.Max {
		return strconv.Itoa(int(z.Min))
	}
	return fmt.Sprintf("%d-%d", z.Min, z.Max)
}
