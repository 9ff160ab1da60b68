package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harborlane/mcpserver/mcp"
	"github.com/harborlane/mcpserver/mcpservice"
	"github.com/harborlane/mcpserver/storage"
)

type addProductArgs struct {
	Name     string  `json:"name" jsonschema:"required,description=Product name (e.g. \"Wireless Mouse\")"`
	Price    float64 `json:"price" jsonschema:"required,description=Price in USD (e.g. 29.99)"`
	Category string  `json:"category" jsonschema:"required,description=Product category (e.g. \"electronics\")"`
}

type searchProductsArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search term to match against product name or category"`
}

func productPrice(rec storage.Record) float64 {
	p, _ := strconv.ParseFloat(rec.Fields["price"], 64)
	return p
}

// nextProductID returns one past the highest numeric id in the store.
func nextProductID(records []storage.Record) string {
	maxID := 0
	for _, r := range records {
		if n, err := strconv.Atoi(r.ID); err == nil && n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1)
}

// newServer builds the product-catalog capability surface over the given store.
func newServer(store storage.Store) (*mcpservice.Server, *mcpservice.ResourcesContainer) {
	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("add_product", func(ctx context.Context, args addProductArgs) (*mcp.CallToolResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			id := nextProductID(records)
			err = store.Put(ctx, storage.Record{
				ID: id,
				Fields: map[string]string{
					"name":     args.Name,
					"price":    strconv.FormatFloat(args.Price, 'f', -1, 64),
					"category": args.Category,
				},
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				return nil, err
			}
			return mcpservice.TextResult(fmt.Sprintf(
				"Product '%s' added with id %s ($%.2f, %s).",
				args.Name, id, args.Price, args.Category,
			)), nil
		}, mcpservice.WithToolDescription("Add a new product to the catalog.")),

		mcpservice.NewTool("search_products", func(ctx context.Context, args searchProductsArgs) (*mcp.CallToolResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			q := strings.ToLower(args.Query)
			var matches []string
			for _, r := range records {
				if strings.Contains(strings.ToLower(r.Fields["name"]), q) ||
					strings.Contains(strings.ToLower(r.Fields["category"]), q) {
					matches = append(matches, fmt.Sprintf("- [%s] %s — $%.2f (%s)",
						r.ID, r.Fields["name"], productPrice(r), r.Fields["category"]))
				}
			}
			if len(matches) == 0 {
				return mcpservice.TextResult(fmt.Sprintf("No products matching '%s'.", args.Query)), nil
			}
			return mcpservice.TextResult(fmt.Sprintf("Found %d product(s):\n%s",
				len(matches), strings.Join(matches, "\n"))), nil
		}, mcpservice.WithToolDescription("Search products by name or category (case-insensitive).")),
	)

	resources := mcpservice.NewResourcesContainer()
	resources.AddStatic(mcpservice.StaticResource{
		Descriptor: mcp.Resource{
			URI:         "products://all",
			Name:        "Product catalog",
			Description: "List all products in the catalog.",
			MimeType:    "text/plain",
		},
		Handler: func(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return mcpservice.TextResourceResult(uri, "text/plain", "Catalog is empty."), nil
			}
			lines := make([]string, 0, len(records))
			for _, r := range records {
				lines = append(lines, fmt.Sprintf("[%s] %s — $%.2f (%s)",
					r.ID, r.Fields["name"], productPrice(r), r.Fields["category"]))
			}
			return mcpservice.TextResourceResult(uri, "text/plain", strings.Join(lines, "\n")), nil
		},
	})
	resources.AddTemplate(mcpservice.TemplatedResource{
		Descriptor: mcp.ResourceTemplate{
			URITemplate: "products://{product_id}",
			Name:        "Product by id",
			Description: "Get details for a specific product.",
			MimeType:    "application/json",
		},
		Handler: func(ctx context.Context, uri string, params map[string]string) (*mcp.ReadResourceResult, error) {
			id := params["product_id"]
			rec, err := store.Get(ctx, id)
			if err != nil {
				if err == storage.ErrNotFound {
					return mcpservice.TextResourceResult(uri, "text/plain",
						fmt.Sprintf("Product '%s' not found.", id)), nil
				}
				return nil, err
			}
			doc, err := json.MarshalIndent(map[string]any{
				"id":       rec.ID,
				"name":     rec.Fields["name"],
				"price":    productPrice(*rec),
				"category": rec.Fields["category"],
			}, "", "  ")
			if err != nil {
				return nil, err
			}
			return mcpservice.TextResourceResult(uri, "application/json", string(doc)), nil
		},
	})

	prompts := mcpservice.NewPromptsContainer(mcpservice.StaticPrompt{
		Descriptor: mcp.Prompt{
			Name:        "analyze_catalog",
			Description: "Generate a prompt to analyze the product catalog.",
			Arguments: []mcp.PromptArgument{
				{Name: "focus", Description: `Analysis focus — "pricing" for price analysis, "inventory" for category overview`},
			},
		},
		Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return &mcp.GetPromptResult{
					Messages: []mcp.PromptMessage{mcpservice.UserMessage("The catalog is empty — nothing to analyze.")},
				}, nil
			}

			catalog := make([]map[string]any, 0, len(records))
			for _, r := range records {
				catalog = append(catalog, map[string]any{
					"id":       r.ID,
					"name":     r.Fields["name"],
					"price":    productPrice(r),
					"category": r.Fields["category"],
				})
			}
			catalogText, err := json.MarshalIndent(catalog, "", "  ")
			if err != nil {
				return nil, err
			}

			instruction := "Analyze the pricing of this product catalog. " +
				"Identify the price range, suggest competitive adjustments, " +
				"and flag any outliers."
			if req.Arguments["focus"] == "inventory" {
				instruction = "Analyze this product catalog focusing on inventory composition. " +
					"Break down products by category, identify gaps, and suggest " +
					"categories that could be added."
			}
			return &mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{
					mcpservice.UserMessage(instruction + "\n\nCatalog data:\n" + string(catalogText)),
				},
			}, nil
		},
	})

	server := mcpservice.NewServer(
		mcpservice.WithServerInfo("products", "1.0.0"),
		mcpservice.WithToolsContainer(tools),
		mcpservice.WithResourcesContainer(resources),
		mcpservice.WithPromptsContainer(prompts),
	)
	return server, resources
}
