package cache

import "context"

// Typed accessors used by the analytics handlers. Each pair shares a
// category so the matching Invalidate* call clears exactly its entries.

func (c *ResultCache) GetMetrics(out any, params ...any) bool {
	return c.GetInto(CategoryMetrics, out, params...)
}

func (c *ResultCache) SetMetrics(ctx context.Context, data any, params ...any) error {
	return c.Set(ctx, CategoryMetrics, data, 0, params...)
}

func (c *ResultCache) GetForecast(out any, params ...any) bool {
	return c.GetInto(CategoryForecast, out, params...)
}

func (c *ResultCache) SetForecast(ctx context.Context, data any, params ...any) error {
	return c.Set(ctx, CategoryForecast, data, 0, params...)
}

func (c *ResultCache) GetComparison(out any, params ...any) bool {
	return c.GetInto(CategoryComparison, out, params...)
}

func (c *ResultCache) SetComparison(ctx context.Context, data any, params ...any) error {
	return c.Set(ctx, CategoryComparison, data, 0, params...)
}

func (c *ResultCache) GetChartData(out any, params ...any) bool {
	return c.GetInto(CategoryChart, out, params...)
}

func (c *ResultCache) SetChartData(ctx context.Context, data any, params ...any) error {
	return c.Set(ctx, CategoryChart, data, 0, params...)
}

func (c *ResultCache) GetExportData(out any, params ...any) bool {
	return c.GetInto(CategoryExport, out, params...)
}

func (c *ResultCache) SetExportData(ctx context.Context, data any, params ...any) error {
	return c.Set(ctx, CategoryExport, data, 0, params...)
}

// InvalidateMetrics also drops chart series, which are derived from the
// same records.
func (c *ResultCache) InvalidateMetrics(ctx context.Context) int {
	return c.Invalidate(ctx, CategoryMetrics) + c.Invalidate(ctx, CategoryChart)
}

func (c *ResultCache) InvalidateComparison(ctx context.Context) int {
	return c.Invalidate(ctx, CategoryComparison)
}

func (c *ResultCache) InvalidateForecast(ctx context.Context) int {
	return c.Invalidate(ctx, CategoryForecast)
}
