package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/agrinova/fieldops-backend/config"
	"github.com/agrinova/fieldops-backend/models"
	"github.com/agrinova/fieldops-backend/utils"
	"github.com/google/uuid"
)

// Seeds a company with estates, divisions, blocks, vehicles and one device
// registration, then prints the device token and a staff JWT for smoke
// testing against a fresh environment.
func main() {
	companyName := flag.String("company", "Demo Plantation", "Company name to seed")
	companyCode := flag.String("code", "DEMO", "Company code (unique)")
	estates := flag.Int("estates", 2, "Number of estates to create")
	userName := flag.String("user", "Field Supervisor", "User name for the seeded device")
	phone := flag.String("phone", "", "Operator phone number for the seeded device (optional)")
	flag.Parse()

	if *phone != "" {
		if err := utils.ValidatePhoneNumber(*phone, utils.CountryCode); err != nil {
			fmt.Fprintf(os.Stderr, "invalid phone number: %v\n", err)
			os.Exit(1)
		}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	company := models.Company{
		ID:     uuid.NewString(),
		Name:   *companyName,
		Code:   strings.ToUpper(strings.TrimSpace(*companyCode)),
		Active: true,
	}
	if err := db.Create(&company).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to create company: %v\n", err)
		os.Exit(1)
	}

	var estateIds []int
	for e := 1; e <= *estates; e++ {
		estate := models.Estate{
			CompanyId: company.ID,
			Name:      fmt.Sprintf("%s Estate %d", company.Code, e),
			Code:      fmt.Sprintf("EST-%02d", e),
			Timezone:  "Asia/Jakarta",
			Active:    true,
		}
		if err := db.Create(&estate).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create estate: %v\n", err)
			os.Exit(1)
		}
		estateIds = append(estateIds, estate.ID)

		for d := 1; d <= 2; d++ {
			division := models.Division{
				EstateId:  estate.ID,
				CompanyId: company.ID,
				Name:      fmt.Sprintf("Division %d", d),
				Code:      fmt.Sprintf("DIV-%02d", d),
				Active:    true,
			}
			if err := db.Create(&division).Error; err != nil {
				fmt.Fprintf(os.Stderr, "failed to create division: %v\n", err)
				os.Exit(1)
			}
			for b := 1; b <= 4; b++ {
				block := models.Block{
					DivisionId:  division.ID,
					EstateId:    estate.ID,
					CompanyId:   company.ID,
					Name:        fmt.Sprintf("Block %c%d", 'A'+d-1, b),
					Code:        fmt.Sprintf("BLK-%02d%02d", d, b),
					PlantedYear: 2015 + b,
					Active:      true,
				}
				if err := db.Create(&block).Error; err != nil {
					fmt.Fprintf(os.Stderr, "failed to create block: %v\n", err)
					os.Exit(1)
				}
			}
		}
	}

	for i, plate := range []string{"BM 8912 TR", "BM 4420 KL", "BM 7754 QD"} {
		vehicle := models.Vehicle{
			CompanyId: company.ID,
			Plate:     plate,
			Type:      "truck",
			OwnerName: fmt.Sprintf("Contractor %d", i+1),
			Active:    true,
		}
		if err := db.Create(&vehicle).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create vehicle: %v\n", err)
			os.Exit(1)
		}
	}

	estateIdsJSON, err := json.Marshal(estateIds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode estate ids: %v\n", err)
		os.Exit(1)
	}
	device := models.DeviceRegistration{
		DeviceId:  uuid.NewString(),
		Token:     strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""),
		UserId:    1,
		UserName:  *userName,
		Phone:     *phone,
		CompanyId: company.ID,
		EstateIds: estateIdsJSON,
		Active:    true,
	}
	if err := db.Create(&device).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to create device registration: %v\n", err)
		os.Exit(1)
	}

	staffToken, err := utils.JwtGenerate(device.UserId, device.DeviceId)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not mint staff JWT (set TOKEN_HOUR_LIFESPAN): %v\n", err)
		staffToken = "(unavailable)"
	}

	fmt.Println("company_id:  ", company.ID)
	fmt.Println("device_id:   ", device.DeviceId)
	fmt.Println("device_token:", device.Token)
	fmt.Println("staff_jwt:   ", staffToken)
}
